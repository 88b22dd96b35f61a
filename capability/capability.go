// Package capability defines the closed set of behavioral interfaces
// a device driver may implement, and the handle type plans use to
// invoke them uniformly regardless of the concrete driver.
package capability

import "context"

// Tag identifies one capability in the fixed, closed set. Dispatch is
// by tagged variant plus per-tag operation table, not open interface
// inheritance.
type Tag string

const (
	TagReadable          Tag = "readable"
	TagMovable           Tag = "movable"
	TagSettable          Tag = "settable"
	TagSwitchable        Tag = "switchable"
	TagExposureControl   Tag = "exposure_control"
	TagTriggerable       Tag = "triggerable"
	TagFrameProducer     Tag = "frame_producer"
	TagWavelengthTunable Tag = "wavelength_tunable"
	TagShutterControl    Tag = "shutter_control"
	TagEmissionControl   Tag = "emission_control"
)

// AllTags lists every capability tag the core recognizes.
var AllTags = []Tag{
	TagReadable, TagMovable, TagSettable, TagSwitchable, TagExposureControl,
	TagTriggerable, TagFrameProducer, TagWavelengthTunable, TagShutterControl,
	TagEmissionControl,
}

// MoveMode selects absolute or relative positioning for Movable.Move.
type MoveMode int

const (
	MoveAbsolute MoveMode = iota
	MoveRelative
)

// SwitchState is the on/off state reported by Switchable.
type SwitchState int

const (
	SwitchOff SwitchState = iota
	SwitchOn
)

// Readable devices produce a single scalar reading on demand.
type Readable interface {
	Read(ctx context.Context) (float64, error)
}

// Movable devices support absolute/relative positioning with an
// optional settle wait.
type Movable interface {
	Move(ctx context.Context, position float64, mode MoveMode, waitSettled bool) error
	Position(ctx context.Context) (float64, error)
	WaitSettled(ctx context.Context) error
}

// Settable devices expose named parameters that can be read and
// written, validated against a ParamSpec.
type Settable interface {
	Set(ctx context.Context, name string, value any) error
	Get(ctx context.Context, name string) (any, error)
	ParamSpecs() []ParamSpec
}

// Switchable devices have a binary on/off state.
type Switchable interface {
	On(ctx context.Context) error
	Off(ctx context.Context) error
	State(ctx context.Context) (SwitchState, error)
}

// ExposureControl devices accept an exposure time for their next
// acquisition.
type ExposureControl interface {
	SetExposure(ctx context.Context, seconds float64) error
	GetExposure(ctx context.Context) (float64, error)
}

// Triggerable devices can be armed and fired.
type Triggerable interface {
	Arm(ctx context.Context) error
	Trigger(ctx context.Context) error
	IsArmed(ctx context.Context) (bool, error)
}

// FrameProducer devices stream frames into a broadcast once started.
type FrameProducer interface {
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
	SubscribeFrames(sinkName string) error
	Resolution(ctx context.Context) (width, height int, err error)
}

// WavelengthTunable devices can be set to emit or detect at a given
// wavelength, in nanometers.
type WavelengthTunable interface {
	SetWavelength(ctx context.Context, nm float64) error
	GetWavelength(ctx context.Context) (float64, error)
}

// ShutterControl devices gate a light path open or closed.
type ShutterControl interface {
	SetShutter(ctx context.Context, open bool) error
	GetShutter(ctx context.Context) (bool, error)
}

// EmissionControl devices gate a source's emission on or off,
// distinct from ShutterControl in that it addresses the source itself
// rather than a downstream light path.
type EmissionControl interface {
	SetEmission(ctx context.Context, on bool) error
	GetEmission(ctx context.Context) (bool, error)
}
