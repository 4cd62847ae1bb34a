package compute

import (
	"maps"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Driver creates the backends of the devices it finds. It returns an empty list (and no error) if the
// driver works but there are no devices.
type Driver func(options Options) ([]Backend, error)

var (
	muDrivers sync.Mutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a driver available under the given name.
// Registering a driver with a name already in use replaces the previous one.
//
// Drivers register themselves in their init functions: "software" is always available, "opencl" only if
// built with the `opencl` tag.
func RegisterDriver(name string, driver Driver) {
	muDrivers.Lock()
	defer muDrivers.Unlock()
	if _, found := drivers[name]; found {
		klog.Warningf("compute.RegisterDriver(%q): replacing previously registered driver", name)
	}
	drivers[name] = driver
}

// GetDriver returns the driver registered with the given name.
func GetDriver(name string) (Driver, error) {
	muDrivers.Lock()
	defer muDrivers.Unlock()
	driver, found := drivers[name]
	if !found {
		return nil, errors.Errorf("compute driver %q not registered, available drivers: %q", name,
			slices.Sorted(maps.Keys(drivers)))
	}
	return driver, nil
}

// Drivers returns the names of the registered drivers, sorted.
func Drivers() []string {
	muDrivers.Lock()
	defer muDrivers.Unlock()
	return slices.Sorted(maps.Keys(drivers))
}
