package plan

import (
	"fmt"

	"github.com/easternanemone/daq-core/capability"
	"github.com/easternanemone/daq-core/internal/daqerr"
)

// kindRequiredCapability maps a step kind to the capability tag a
// device must advertise to accept it. Steps not in this table (Sleep,
// Wait-by-duration, Checkpoint, Pause, Resume, Log, BeginRun, EndRun)
// carry no device-capability requirement of their own.
var kindRequiredCapability = map[Kind]capability.Tag{
	KindMove:    capability.TagMovable,
	KindSet:     capability.TagSettable,
	KindTrigger: capability.TagTriggerable,
	KindRead:    capability.TagReadable,
}

// Validate checks the plan against checker before execution: every
// referenced device exists, every required capability is present on
// it, BeginRun appears at most once and leads, EndRun appears at most
// once and trails, and there is exactly one BeginRun/EndRun pair if
// either is present.
func (p *Plan) Validate(checker DeviceChecker) error {
	beginCount, endCount := 0, 0
	for i, step := range p.Steps {
		if step.Kind == KindBeginRun {
			beginCount++
			if i != 0 {
				return daqerr.New("Validate", daqerr.CategoryConfiguration, "BeginRun must be the first step")
			}
		}
		if step.Kind == KindEndRun {
			endCount++
			if i != len(p.Steps)-1 {
				return daqerr.New("Validate", daqerr.CategoryConfiguration, "EndRun must be the last step")
			}
		}

		if err := validateStep(step, checker); err != nil {
			return err
		}
	}

	if beginCount > 1 {
		return daqerr.New("Validate", daqerr.CategoryConfiguration, "plan has more than one BeginRun")
	}
	if endCount > 1 {
		return daqerr.New("Validate", daqerr.CategoryConfiguration, "plan has more than one EndRun")
	}
	if beginCount != endCount {
		return daqerr.New("Validate", daqerr.CategoryConfiguration, "BeginRun and EndRun must appear together")
	}

	return nil
}

// validateStep checks a single step's device/capability requirements,
// recursing into an attached branch's action steps. It deliberately
// skips the BeginRun/EndRun positional rules, which only make sense
// for a plan's own top-level step list, not for an inline branch.
func validateStep(step Step, checker DeviceChecker) error {
	deviceID := step.DeviceID
	if step.Kind == KindWait && step.Wait != nil {
		deviceID = step.Wait.DeviceID
	}
	if deviceID == "" {
		return validateBranch(step, checker)
	}

	tags, ok := checker.HasDevice(deviceID)
	if !ok {
		return daqerr.NewDevice("Validate", deviceID, daqerr.CategoryConfiguration, "referenced device does not exist")
	}

	required, needsCap := kindRequiredCapability[step.Kind]
	if needsCap && !capability.HasCapability(tags, required) {
		return daqerr.NewDevice("Validate", deviceID, daqerr.CategoryConfiguration,
			fmt.Sprintf("device does not advertise required capability %q", required))
	}

	if step.Kind == KindWait && step.Wait != nil && step.Wait.Kind == WaitThreshold {
		if !capability.HasCapability(tags, capability.TagReadable) {
			return daqerr.NewDevice("Validate", deviceID, daqerr.CategoryConfiguration,
				"wait-on-threshold requires a readable device")
		}
	}

	return validateBranch(step, checker)
}

func validateBranch(step Step, checker DeviceChecker) error {
	if step.Kind != KindRead || step.Branch == nil {
		return nil
	}
	for _, action := range step.Branch.ActionSteps {
		if err := validateStep(action, checker); err != nil {
			return err
		}
	}
	return nil
}
