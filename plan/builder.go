package plan

import (
	"fmt"

	"github.com/easternanemone/daq-core/capability"
)

// LoopTermination selects how a bounded loop decides it is done.
type LoopTermination struct {
	Count      int  // terminate after Count iterations; 0 means unset
	Infinite   bool // infinite-with-cap: loop until Cap, which must be set
	Cap        int  // hard iteration cap for Infinite loops
	ConditionFn func(iteration int, lastRead float64) bool // terminate when this returns true
}

// Sequence concatenates step lists in order.
func Sequence(lists ...[]Step) []Step {
	var out []Step
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// Loop expands body, called once per iteration with the iteration
// index, into a flat step list. Termination must resolve to a finite
// count: Count directly, or Cap when Infinite is set (ConditionFn, if
// present, can end the loop earlier but never extends past Cap).
// ConditionFn is evaluated here, at build time, before each iteration;
// no reading is available then, so its lastRead argument is always 0.
func Loop(termination LoopTermination, body func(iteration int) []Step) ([]Step, error) {
	limit := termination.Count
	if termination.Infinite {
		if termination.Cap <= 0 {
			return nil, fmt.Errorf("plan: infinite-with-cap loop requires a positive Cap")
		}
		limit = termination.Cap
	}
	if limit <= 0 {
		return nil, fmt.Errorf("plan: loop termination must resolve to a finite, positive iteration count")
	}

	var out []Step
	for i := 0; i < limit; i++ {
		if termination.ConditionFn != nil && termination.ConditionFn(i, 0) {
			break
		}
		out = append(out, body(i)...)
	}
	return out, nil
}

// NestedScan produces, for every outer position, a Move(outer) followed
// by a full sweep of Move(inner) steps, each followed by a Read of the
// inner device — the classic outer x inner raster scan. outerDeviceID and innerDeviceID must differ; a scan over a
// single device against itself is rejected as a degenerate cycle.
func NestedScan(outerDeviceID string, outerPositions []float64, innerDeviceID string, innerPositions []float64, waitSettled bool) ([]Step, error) {
	if outerDeviceID == innerDeviceID {
		return nil, fmt.Errorf("plan: nested scan outer and inner device must differ (got %q for both)", outerDeviceID)
	}
	if len(outerPositions) == 0 || len(innerPositions) == 0 {
		return nil, fmt.Errorf("plan: nested scan requires at least one outer and one inner position")
	}

	var out []Step
	for _, op := range outerPositions {
		out = append(out, Step{Kind: KindMove, DeviceID: outerDeviceID, Position: op, Mode: capability.MoveAbsolute, WaitSettled: waitSettled})
		for _, ip := range innerPositions {
			out = append(out, Step{Kind: KindMove, DeviceID: innerDeviceID, Position: ip, Mode: capability.MoveAbsolute, WaitSettled: waitSettled})
			out = append(out, Step{Kind: KindRead, DeviceID: innerDeviceID})
		}
	}
	return out, nil
}

// AdaptiveBranch attaches to a Read step: if Predicate is satisfied by
// the value the engine observes from that read, ActionSteps run
// immediately afterward, inline in the same run. This is the one
// composite construct that is not flattened up front — the branch
// depends on a live reading only known at dispatch time — so it is
// carried on the Step itself rather than expanded by a builder.
type AdaptiveBranch struct {
	Predicate   func(reading float64) bool
	ActionSteps []Step
}

// ReadWithBranch is Read plus an inline conditional branch: if branch
// is non-nil and its Predicate accepts the observed reading, the
// engine runs branch.ActionSteps immediately after this step.
func ReadWithBranch(deviceID string, branch *AdaptiveBranch) Step {
	return Step{Kind: KindRead, DeviceID: deviceID, Branch: branch}
}

// BeginRun, EndRun, Checkpoint, Log and Sleep are thin constructors
// for the corresponding single steps, used when assembling composite
// plans by hand.
func BeginRun(metadata map[string]string) Step { return Step{Kind: KindBeginRun, Metadata: metadata} }
func EndRun() Step                             { return Step{Kind: KindEndRun} }
func Checkpoint(label string) Step             { return Step{Kind: KindCheckpoint, Label: label} }
func Log(level LogLevel, message string) Step  { return Step{Kind: KindLog, LogLevel: level, Message: message} }
func Move(deviceID string, position float64, mode capability.MoveMode, waitSettled bool) Step {
	return Step{Kind: KindMove, DeviceID: deviceID, Position: position, Mode: mode, WaitSettled: waitSettled}
}
func Set(deviceID, param string, value any) Step {
	return Step{Kind: KindSet, DeviceID: deviceID, Param: param, Value: value}
}
func Trigger(deviceID string) Step { return Step{Kind: KindTrigger, DeviceID: deviceID} }
func Read(deviceID string) Step    { return Step{Kind: KindRead, DeviceID: deviceID} }
