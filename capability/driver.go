package capability

import (
	"context"

	"github.com/easternanemone/daq-core/internal/daqerr"
)

// Driver is the device-driver interface the core expects from every
// driver tag: open with a config map, declare the capabilities it
// fulfills, and shut down at most once.
type Driver interface {
	Open(ctx context.Context, config map[string]string) error
	Capabilities() []Tag
	Shutdown(ctx context.Context) error
}

// Resolver lets a CapabilityHandle reach the driver a registry owns
// without holding a strong reference to it directly, and lets the
// handle signal it is done using the device. Implemented by
// registry.Registry; declared here to avoid a dependency cycle.
type Resolver interface {
	Resolve(deviceID string) (Driver, bool)
	ReleaseHandle(deviceID string)
}

// HasCapability reports whether tags contains tag.
func HasCapability(tags []Tag, tag Tag) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RequireCapability returns ErrCapabilityMissing unless tags contains tag.
func RequireCapability(deviceID string, tags []Tag, tag Tag) error {
	if HasCapability(tags, tag) {
		return nil
	}
	return daqerr.NewDevice("RequireCapability", deviceID, daqerr.CategoryConfiguration,
		"device does not advertise capability "+string(tag))
}
