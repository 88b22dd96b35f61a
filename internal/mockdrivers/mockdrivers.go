// Package mockdrivers provides in-memory capability.Driver
// implementations for tests and for the cmd/daq-sim demo, standing in
// for real hardware the way the original adapter layer's mock adapter
// did.
package mockdrivers

import (
	"context"
	"sync"
	"time"

	"github.com/easternanemone/daq-core/capability"
)

// Stage is a mock Movable+Readable single-axis positioner. Move
// completes instantly but WaitSettled sleeps for SettleDelay to model
// a real stage's settle time.
type Stage struct {
	mu          sync.Mutex
	position    float64
	opened      bool
	SettleDelay time.Duration
	MoveErr     error
}

func NewStage() *Stage { return &Stage{SettleDelay: 5 * time.Millisecond} }

func (s *Stage) Open(ctx context.Context, config map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *Stage) Capabilities() []capability.Tag {
	return []capability.Tag{capability.TagMovable, capability.TagReadable}
}

func (s *Stage) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

func (s *Stage) Move(ctx context.Context, position float64, mode capability.MoveMode, waitSettled bool) error {
	if s.MoveErr != nil {
		return s.MoveErr
	}
	s.mu.Lock()
	if mode == capability.MoveRelative {
		s.position += position
	} else {
		s.position = position
	}
	s.mu.Unlock()
	if waitSettled {
		return s.WaitSettled(ctx)
	}
	return nil
}

func (s *Stage) Position(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, nil
}

func (s *Stage) WaitSettled(ctx context.Context) error {
	select {
	case <-time.After(s.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stage) Read(ctx context.Context) (float64, error) {
	return s.Position(ctx)
}

// Sensor is a mock Readable returning a fixed or caller-set value.
type Sensor struct {
	mu    sync.Mutex
	value float64
}

func NewSensor(initial float64) *Sensor { return &Sensor{value: initial} }

func (s *Sensor) Open(ctx context.Context, config map[string]string) error { return nil }
func (s *Sensor) Capabilities() []capability.Tag                          { return []capability.Tag{capability.TagReadable} }
func (s *Sensor) Shutdown(ctx context.Context) error                      { return nil }

func (s *Sensor) Read(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *Sensor) SetValue(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

// Camera is a mock Settable+ExposureControl+Triggerable+FrameProducer
// used to exercise acquisition plans without real hardware.
type Camera struct {
	mu        sync.Mutex
	exposure  float64
	armed     bool
	streaming bool
	params    map[string]float64
}

func NewCamera() *Camera {
	return &Camera{exposure: 0.01, params: map[string]float64{"gain": 1.0}}
}

func (c *Camera) Open(ctx context.Context, config map[string]string) error { return nil }

func (c *Camera) Capabilities() []capability.Tag {
	return []capability.Tag{
		capability.TagSettable, capability.TagExposureControl,
		capability.TagTriggerable, capability.TagFrameProducer,
	}
}

func (c *Camera) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = false
	return nil
}

func (c *Camera) Set(ctx context.Context, name string, value any) error {
	f, ok := value.(float64)
	if !ok {
		return capability.RequireCapability("camera", nil, capability.TagSettable)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[name] = f
	return nil
}

func (c *Camera) Get(ctx context.Context, name string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[name], nil
}

func (c *Camera) ParamSpecs() []capability.ParamSpec {
	return []capability.ParamSpec{
		{Name: "gain", Kind: capability.ParamScalar, Min: 0, Max: 16},
	}
}

func (c *Camera) SetExposure(ctx context.Context, seconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposure = seconds
	return nil
}

func (c *Camera) GetExposure(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure, nil
}

func (c *Camera) Arm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
	return nil
}

func (c *Camera) Trigger(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return capability.RequireCapability("camera", nil, capability.TagTriggerable)
	}
	return nil
}

func (c *Camera) IsArmed(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed, nil
}

func (c *Camera) StartStream(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = true
	return nil
}

func (c *Camera) StopStream(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = false
	return nil
}

func (c *Camera) SubscribeFrames(sinkName string) error { return nil }

func (c *Camera) Resolution(ctx context.Context) (int, int, error) { return 1024, 1024, nil }
