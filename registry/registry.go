// Package registry implements the process-wide device registry: the
// single authority mapping a device ID to its driver, capability set,
// and lifecycle state. It implements capability.Resolver so that
// CapabilityHandle instances can resolve and release against it
// without holding a direct reference to the registry's internals.
package registry

import (
	"context"
	"sync"

	"github.com/easternanemone/daq-core/capability"
	"github.com/easternanemone/daq-core/config"
	"github.com/easternanemone/daq-core/internal/daqerr"
	"github.com/easternanemone/daq-core/internal/logging"
	"github.com/easternanemone/daq-core/internal/resilience"
)

// State is a device's lifecycle stage within the registry.
type State string

const (
	StateCreated    State = "created"    // driver registered, Open not yet called
	StateConfigured State = "configured" // Open succeeded, ready for use
	StateRemoving   State = "removing"   // remove requested, draining handles
)

// DeviceRecord is the registry's bookkeeping entry for one device.
type DeviceRecord struct {
	ID           string
	Kind         string
	Capabilities []capability.Tag
	State        State
	Driver       capability.Driver
	Breaker      *resilience.Breaker
	refCount     int
}

// ShutdownReport aggregates the outcome of shutting down every
// registered device, so a single failing driver does not stop the
// rest from being asked to shut down too.
type ShutdownReport struct {
	Shutdown []string
	Failed   map[string]error
}

// OK reports whether every device shut down cleanly.
func (r ShutdownReport) OK() bool { return len(r.Failed) == 0 }

// Registry is the thread-safe device_id -> DeviceRecord map. It is the
// sole owner of driver instances; everything else reaches a driver
// through a capability.Handle obtained via Handle.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*DeviceRecord
	logger  *logging.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*DeviceRecord),
		logger:  logging.Default(),
	}
}

// Create registers a new driver under deviceID, in StateCreated. It
// fails if a device with that ID already exists.
func (r *Registry) Create(deviceID, kind string, driver capability.Driver) (*DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[deviceID]; exists {
		return nil, daqerr.ErrDeviceExists
	}

	rec := &DeviceRecord{
		ID:           deviceID,
		Kind:         kind,
		Capabilities: driver.Capabilities(),
		State:        StateCreated,
		Driver:       driver,
		Breaker:      resilience.NewBreaker(deviceID, resilience.DefaultBreakerConfig()),
	}
	r.records[deviceID] = rec
	r.logger.WithDevice(deviceID).Info("device created", "kind", kind)
	return rec, nil
}

// Configure opens the device's driver with the given config, moving it
// from StateCreated to StateConfigured. Calling Configure twice
// without an intervening Remove is rejected.
func (r *Registry) Configure(ctx context.Context, deviceID string, config map[string]string) error {
	r.mu.Lock()
	rec, ok := r.records[deviceID]
	if !ok {
		r.mu.Unlock()
		return daqerr.ErrDeviceNotFound
	}
	if rec.State == StateConfigured {
		r.mu.Unlock()
		return daqerr.ErrAlreadyConfigured
	}
	r.mu.Unlock()

	if err := rec.Driver.Open(ctx, config); err != nil {
		return daqerr.NewDevice("Configure", deviceID, daqerr.CategoryConfiguration, err.Error())
	}

	r.mu.Lock()
	rec.State = StateConfigured
	r.mu.Unlock()
	r.logger.WithDevice(deviceID).Info("device configured")
	return nil
}

// ListByCapability returns the IDs of every configured device
// advertising tag.
func (r *Registry) ListByCapability(tag capability.Tag) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, rec := range r.records {
		if rec.State == StateConfigured && capability.HasCapability(rec.Capabilities, tag) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Get returns the record for deviceID, if present.
func (r *Registry) Get(deviceID string) (*DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[deviceID]
	return rec, ok
}

// Handle returns a capability.Handle bound to deviceID, incrementing
// its outstanding-handle refcount. The device must already be
// configured.
func (r *Registry) Handle(deviceID string) (*capability.Handle, error) {
	r.mu.Lock()
	rec, ok := r.records[deviceID]
	if !ok {
		r.mu.Unlock()
		return nil, daqerr.ErrDeviceNotFound
	}
	if rec.State != StateConfigured {
		r.mu.Unlock()
		return nil, daqerr.ErrNotConfigured
	}
	rec.refCount++
	r.mu.Unlock()

	return capability.NewHandle(deviceID, rec.Capabilities, r, rec.Breaker), nil
}

// Resolve implements capability.Resolver. It returns the live driver
// for deviceID as long as the device is still configured.
func (r *Registry) Resolve(deviceID string) (capability.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[deviceID]
	if !ok || rec.State != StateConfigured {
		return nil, false
	}
	return rec.Driver, true
}

// ReleaseHandle implements capability.Resolver. It decrements the
// outstanding-handle refcount for deviceID; it is a no-op if the
// device is already gone.
func (r *Registry) ReleaseHandle(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[deviceID]
	if !ok {
		return
	}
	if rec.refCount > 0 {
		rec.refCount--
	}
}

// Remove shuts down and unregisters deviceID. It refuses to remove a
// device with outstanding capability handles (refCount > 0).
func (r *Registry) Remove(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	rec, ok := r.records[deviceID]
	if !ok {
		r.mu.Unlock()
		return daqerr.ErrDeviceNotFound
	}
	if rec.refCount > 0 {
		r.mu.Unlock()
		return daqerr.ErrDeviceInUse
	}
	rec.State = StateRemoving
	r.mu.Unlock()

	err := rec.Driver.Shutdown(ctx)

	r.mu.Lock()
	delete(r.records, deviceID)
	r.mu.Unlock()

	if err != nil {
		return daqerr.NewDevice("Remove", deviceID, daqerr.CategoryTransient, err.Error())
	}
	r.logger.WithDevice(deviceID).Info("device removed")
	return nil
}

// ShutdownAll shuts down every registered device regardless of
// outstanding refcount, aggregating per-device failures into a single
// report instead of stopping at the first error. Intended for process
// teardown.
func (r *Registry) ShutdownAll(ctx context.Context) ShutdownReport {
	r.mu.Lock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	report := ShutdownReport{Failed: make(map[string]error)}
	for _, id := range ids {
		r.mu.RLock()
		rec, ok := r.records[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}

		if err := rec.Driver.Shutdown(ctx); err != nil {
			report.Failed[id] = err
			r.logger.WithDevice(id).Error("shutdown failed", "error", err)
			continue
		}
		report.Shutdown = append(report.Shutdown, id)

		r.mu.Lock()
		delete(r.records, id)
		r.mu.Unlock()
	}
	return report
}

// HasDevice implements plan.DeviceChecker: it reports whether
// deviceID is registered and, if so, the capability tags it
// advertises (regardless of configuration state, since plan
// validation runs before devices are necessarily configured).
func (r *Registry) HasDevice(deviceID string) ([]capability.Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[deviceID]
	if !ok {
		return nil, false
	}
	return rec.Capabilities, true
}

// Len returns the number of currently registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// DriverFactory builds a driver instance for a device kind named in
// configuration. It does not need to know the device's capability
// set: Create derives that from the returned driver's Capabilities().
type DriverFactory func(kind string, params map[string]string) (capability.Driver, error)

// Bootstrap pre-registers and configures every device listed in cfg,
// using factory to turn each entry's Kind into a live driver. It stops
// at the first failure, naming the offending device in the returned
// error. AutoDiscover is not implemented here — hardware enumeration
// is inherently device-family-specific and has no mock to ground it
// against, so it is left to a future driver package.
func Bootstrap(ctx context.Context, r *Registry, cfg config.RegistryConfig, factory DriverFactory) error {
	for _, dc := range cfg.Devices {
		driver, err := factory(dc.Kind, dc.Params)
		if err != nil {
			return daqerr.NewDevice("Bootstrap", dc.ID, daqerr.CategoryConfiguration, err.Error())
		}
		if _, err := r.Create(dc.ID, dc.Kind, driver); err != nil {
			return daqerr.NewDevice("Bootstrap", dc.ID, daqerr.CategoryConfiguration, err.Error())
		}
		if err := r.Configure(ctx, dc.ID, dc.Params); err != nil {
			return err
		}
	}
	return nil
}
