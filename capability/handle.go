package capability

import (
	"context"
	"sync/atomic"

	"github.com/easternanemone/daq-core/internal/daqerr"
	"github.com/easternanemone/daq-core/internal/resilience"
)

// Handle is a uniform façade over a heterogeneous driver. It holds a
// weak reference to the registry that owns the driver (resolved on
// every call, never cached) plus a per-device circuit breaker. The
// registry refuses to remove a device while outstanding handles
// exist; Release is how a caller gives up its share of that count.
type Handle struct {
	deviceID     string
	capabilities []Tag
	resolver     Resolver
	breaker      *resilience.Breaker
	released     atomic.Bool
}

// NewHandle creates a handle for deviceID, backed by resolver and
// guarded by breaker. Registries construct handles; callers do not.
func NewHandle(deviceID string, capabilities []Tag, resolver Resolver, breaker *resilience.Breaker) *Handle {
	return &Handle{deviceID: deviceID, capabilities: capabilities, resolver: resolver, breaker: breaker}
}

// DeviceID returns the device ID this handle addresses.
func (h *Handle) DeviceID() string { return h.deviceID }

// Capabilities returns the capability tags declared for this device.
func (h *Handle) Capabilities() []Tag { return h.capabilities }

// Has reports whether the device advertises the given capability.
func (h *Handle) Has(tag Tag) bool { return HasCapability(h.capabilities, tag) }

// Release gives up this handle's share of the registry's refcount. It
// is safe to call more than once; only the first call has effect.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.resolver.ReleaseHandle(h.deviceID)
}

// resolve fetches the live driver, failing if the device has been
// removed or this handle was already released.
func (h *Handle) resolve() (Driver, error) {
	if h.released.Load() {
		return nil, daqerr.ErrDeviceNotFound
	}
	driver, ok := h.resolver.Resolve(h.deviceID)
	if !ok {
		return nil, daqerr.NewDevice("resolve", h.deviceID, daqerr.CategoryStatePrecondition, "device no longer registered")
	}
	return driver, nil
}

// call dispatches op through the per-device circuit breaker after
// checking the device advertises tag.
func (h *Handle) call(tag Tag, op func(Driver) error) error {
	if !h.Has(tag) {
		return daqerr.NewDevice("Dispatch", h.deviceID, daqerr.CategoryConfiguration, "capability missing: "+string(tag))
	}
	driver, err := h.resolve()
	if err != nil {
		return err
	}
	return h.breaker.Execute(func() error { return op(driver) })
}

// Read dispatches Readable.Read.
func (h *Handle) Read(ctx context.Context) (float64, error) {
	var out float64
	err := h.call(TagReadable, func(d Driver) error {
		r, ok := d.(Readable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		v, err := r.Read(ctx)
		out = v
		return err
	})
	return out, err
}

// Move dispatches Movable.Move.
func (h *Handle) Move(ctx context.Context, position float64, mode MoveMode, waitSettled bool) error {
	return h.call(TagMovable, func(d Driver) error {
		m, ok := d.(Movable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		if err := m.Move(ctx, position, mode, false); err != nil {
			return err
		}
		if waitSettled {
			return m.WaitSettled(ctx)
		}
		return nil
	})
}

// Position dispatches Movable.Position.
func (h *Handle) Position(ctx context.Context) (float64, error) {
	var out float64
	err := h.call(TagMovable, func(d Driver) error {
		m, ok := d.(Movable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		v, err := m.Position(ctx)
		out = v
		return err
	})
	return out, err
}

// Set dispatches Settable.Set, validating against the device's
// ParamSpec first.
func (h *Handle) Set(ctx context.Context, name string, value any) error {
	return h.call(TagSettable, func(d Driver) error {
		s, ok := d.(Settable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		for _, spec := range s.ParamSpecs() {
			if spec.Name == name {
				if msg := spec.Validate(value); msg != "" {
					return daqerr.NewDevice("Set", h.deviceID, daqerr.CategoryConfiguration, msg)
				}
				break
			}
		}
		return s.Set(ctx, name, value)
	})
}

// Get dispatches Settable.Get.
func (h *Handle) Get(ctx context.Context, name string) (any, error) {
	var out any
	err := h.call(TagSettable, func(d Driver) error {
		s, ok := d.(Settable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		v, err := s.Get(ctx, name)
		out = v
		return err
	})
	return out, err
}

// On dispatches Switchable.On.
func (h *Handle) On(ctx context.Context) error {
	return h.call(TagSwitchable, func(d Driver) error {
		s, ok := d.(Switchable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return s.On(ctx)
	})
}

// Off dispatches Switchable.Off.
func (h *Handle) Off(ctx context.Context) error {
	return h.call(TagSwitchable, func(d Driver) error {
		s, ok := d.(Switchable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return s.Off(ctx)
	})
}

// SetExposure dispatches ExposureControl.SetExposure.
func (h *Handle) SetExposure(ctx context.Context, seconds float64) error {
	return h.call(TagExposureControl, func(d Driver) error {
		e, ok := d.(ExposureControl)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return e.SetExposure(ctx, seconds)
	})
}

// Arm dispatches Triggerable.Arm.
func (h *Handle) Arm(ctx context.Context) error {
	return h.call(TagTriggerable, func(d Driver) error {
		t, ok := d.(Triggerable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return t.Arm(ctx)
	})
}

// Trigger dispatches Triggerable.Trigger.
func (h *Handle) Trigger(ctx context.Context) error {
	return h.call(TagTriggerable, func(d Driver) error {
		t, ok := d.(Triggerable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return t.Trigger(ctx)
	})
}

// StartStream dispatches FrameProducer.StartStream.
func (h *Handle) StartStream(ctx context.Context) error {
	return h.call(TagFrameProducer, func(d Driver) error {
		f, ok := d.(FrameProducer)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return f.StartStream(ctx)
	})
}

// StopStream dispatches FrameProducer.StopStream.
func (h *Handle) StopStream(ctx context.Context) error {
	return h.call(TagFrameProducer, func(d Driver) error {
		f, ok := d.(FrameProducer)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return f.StopStream(ctx)
	})
}

// SetWavelength dispatches WavelengthTunable.SetWavelength.
func (h *Handle) SetWavelength(ctx context.Context, nm float64) error {
	return h.call(TagWavelengthTunable, func(d Driver) error {
		w, ok := d.(WavelengthTunable)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return w.SetWavelength(ctx, nm)
	})
}

// SetShutter dispatches ShutterControl.SetShutter.
func (h *Handle) SetShutter(ctx context.Context, open bool) error {
	return h.call(TagShutterControl, func(d Driver) error {
		s, ok := d.(ShutterControl)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return s.SetShutter(ctx, open)
	})
}

// SetEmission dispatches EmissionControl.SetEmission.
func (h *Handle) SetEmission(ctx context.Context, on bool) error {
	return h.call(TagEmissionControl, func(d Driver) error {
		e, ok := d.(EmissionControl)
		if !ok {
			return daqerr.ErrCapabilityMissing
		}
		return e.SetEmission(ctx, on)
	})
}

// HaltBestEffort attempts a safe-idle transition on abort: stop any
// active stream, switch off, and otherwise ignore unsupported
// capabilities. Errors from individual attempts are not fatal.
func (h *Handle) HaltBestEffort(ctx context.Context) {
	if h.Has(TagFrameProducer) {
		h.StopStream(ctx)
	}
	if h.Has(TagSwitchable) {
		h.Off(ctx)
	}
}
