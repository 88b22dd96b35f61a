// Package plan implements experiment plans: restartable sequences of
// steps that the run engine translates into capability calls. A plan
// is expressed as a flat list of Step records, validated before
// execution, rather than a lazily generated stream — loops and nested
// scans desugar into that list at build time, while an adaptive branch
// rides on the Read step it follows.
package plan

import (
	"context"
	"time"

	"github.com/easternanemone/daq-core/capability"
)

// Kind is the closed set of step variants a plan may emit.
type Kind string

const (
	KindBeginRun   Kind = "begin_run"
	KindSet        Kind = "set"
	KindMove       Kind = "move"
	KindTrigger    Kind = "trigger"
	KindRead       Kind = "read"
	KindSleep      Kind = "sleep"
	KindWait       Kind = "wait"
	KindCheckpoint Kind = "checkpoint"
	KindPause      Kind = "pause"
	KindResume     Kind = "resume"
	KindLog        Kind = "log"
	KindEndRun     Kind = "end_run"
)

// WaitKind selects which of the three Wait variants a Step carries.
type WaitKind string

const (
	WaitDuration  WaitKind = "duration"
	WaitThreshold WaitKind = "threshold"
	WaitStability WaitKind = "stability"
)

// Wait describes a Wait step's condition.
type Wait struct {
	Kind WaitKind

	Duration time.Duration // WaitDuration

	DeviceID  string  // WaitThreshold, WaitStability
	Threshold float64 // WaitThreshold
	Above     bool    // WaitThreshold: true waits for reading >= Threshold

	StabilityWindow    time.Duration // WaitStability: span the reading must hold within tolerance
	StabilityTolerance float64       // WaitStability
}

// LogLevel is the severity of a Log step.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Step is one message in a plan's sequence. Only the fields relevant
// to Kind are populated.
type Step struct {
	Kind Kind

	Metadata map[string]string // BeginRun

	DeviceID string // Set, Move, Trigger, Read

	Param string // Set
	Value any    // Set

	Position    float64             // Move
	Mode        capability.MoveMode // Move
	WaitSettled bool                // Move

	SleepDuration time.Duration // Sleep

	Wait *Wait // Wait

	Branch *AdaptiveBranch // Read: optional inline branch evaluated against the observed value

	Label string // Checkpoint

	LogLevel LogLevel // Log
	Message  string   // Log
}

// DeviceChecker is the minimal view of a device registry a plan needs
// to validate itself: whether a device exists and what it advertises.
// registry.Registry satisfies this via its HasDevice method.
type DeviceChecker interface {
	HasDevice(deviceID string) (tags []capability.Tag, ok bool)
}

// Plan is a named, validated, replayable sequence of steps.
type Plan struct {
	Name        string
	Description string
	Steps       []Step
}

// New wraps a pre-built step list as a named plan.
func New(name, description string, steps []Step) *Plan {
	return &Plan{Name: name, Description: description, Steps: steps}
}

// Stream replays the plan's steps over a channel, closing it when the
// steps are exhausted or ctx is cancelled. This is the shape the
// engine's dispatch loop consumes, mirroring the teacher's
// channel-plus-context consumption pattern for bounded sequences.
func (p *Plan) Stream(ctx context.Context) <-chan Step {
	out := make(chan Step)
	go func() {
		defer close(out)
		for _, step := range p.Steps {
			select {
			case out <- step:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
