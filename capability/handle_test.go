package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/easternanemone/daq-core/internal/resilience"
)

// stubDriver implements Driver plus Movable and Readable for handle tests.
type stubDriver struct {
	position   float64
	readValue  float64
	moveErr    error
	settleCall int
}

func (s *stubDriver) Open(ctx context.Context, config map[string]string) error { return nil }
func (s *stubDriver) Capabilities() []Tag                                     { return []Tag{TagMovable, TagReadable} }
func (s *stubDriver) Shutdown(ctx context.Context) error                      { return nil }

func (s *stubDriver) Move(ctx context.Context, position float64, mode MoveMode, waitSettled bool) error {
	if s.moveErr != nil {
		return s.moveErr
	}
	s.position = position
	return nil
}
func (s *stubDriver) Position(ctx context.Context) (float64, error) { return s.position, nil }
func (s *stubDriver) WaitSettled(ctx context.Context) error         { s.settleCall++; return nil }

func (s *stubDriver) Read(ctx context.Context) (float64, error) { return s.readValue, nil }

// stubResolver implements Resolver over a single fixed driver.
type stubResolver struct {
	driver   Driver
	present  bool
	released int
}

func (r *stubResolver) Resolve(deviceID string) (Driver, bool) {
	if !r.present {
		return nil, false
	}
	return r.driver, true
}
func (r *stubResolver) ReleaseHandle(deviceID string) { r.released++ }

func newTestHandle(driver Driver, caps []Tag) (*Handle, *stubResolver) {
	resolver := &stubResolver{driver: driver, present: true}
	h := NewHandle("dev1", caps, resolver, resilience.NewBreaker("dev1", resilience.DefaultBreakerConfig()))
	return h, resolver
}

func TestMoveDispatchesAndWaitsSettled(t *testing.T) {
	drv := &stubDriver{}
	h, _ := newTestHandle(drv, []Tag{TagMovable, TagReadable})

	if err := h.Move(context.Background(), 10.0, MoveAbsolute, true); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if drv.position != 10.0 {
		t.Errorf("expected position 10.0, got %v", drv.position)
	}
	if drv.settleCall != 1 {
		t.Errorf("expected WaitSettled called once, got %d", drv.settleCall)
	}
}

func TestDispatchFailsWhenCapabilityMissing(t *testing.T) {
	drv := &stubDriver{}
	h, _ := newTestHandle(drv, []Tag{TagReadable}) // Movable not advertised

	if err := h.Move(context.Background(), 1.0, MoveAbsolute, false); err == nil {
		t.Error("expected error dispatching Move on a handle without Movable capability")
	}
}

func TestReleaseIsIdempotentAndNotifiesResolver(t *testing.T) {
	drv := &stubDriver{}
	h, resolver := newTestHandle(drv, []Tag{TagMovable})

	h.Release()
	h.Release()

	if resolver.released != 1 {
		t.Errorf("expected exactly 1 release notification, got %d", resolver.released)
	}

	if err := h.Move(context.Background(), 1.0, MoveAbsolute, false); err == nil {
		t.Error("expected dispatch on a released handle to fail")
	}
}

func TestResolveFailsWhenDeviceRemoved(t *testing.T) {
	drv := &stubDriver{}
	h, resolver := newTestHandle(drv, []Tag{TagMovable})
	resolver.present = false

	if err := h.Move(context.Background(), 1.0, MoveAbsolute, false); err == nil {
		t.Error("expected dispatch to fail once the underlying device is gone")
	}
}

func TestCircuitBreakerOpensAfterRepeatedDriverErrors(t *testing.T) {
	drv := &stubDriver{moveErr: errors.New("comm failure")}
	resolver := &stubResolver{driver: drv, present: true}
	breaker := resilience.NewBreaker("dev2", resilience.BreakerConfig{MaxFailures: 2, HalfOpenMax: 1})
	h := NewHandle("dev2", []Tag{TagMovable}, resolver, breaker)

	for i := 0; i < 2; i++ {
		if err := h.Move(context.Background(), 1.0, MoveAbsolute, false); err == nil {
			t.Fatalf("expected attempt %d to fail", i)
		}
	}

	if err := h.Move(context.Background(), 1.0, MoveAbsolute, false); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected circuit open error, got %v", err)
	}
}

func TestParamSpecValidation(t *testing.T) {
	spec := ParamSpec{Name: "gain", Kind: ParamScalar, Min: 0, Max: 10}
	if msg := spec.Validate(5.0); msg != "" {
		t.Errorf("expected valid value to pass, got %q", msg)
	}
	if msg := spec.Validate(50.0); msg == "" {
		t.Error("expected out-of-range value to fail validation")
	}
	if msg := spec.Validate("not a number"); msg == "" {
		t.Error("expected non-numeric value to fail validation")
	}
}
