package compute

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Context holds the devices of one driver. Create it with NewContext and release it with Destroy.
type Context struct {
	driver  string
	devices []*Device
}

// NewContext creates a context with all the devices of the named driver.
// If driverName is empty, DefaultDriver() is used. The options are passed to the driver.
//
// It fails with CodeDeviceUnavailable if the driver is not registered, fails or has no devices.
func NewContext(driverName string, options Options) (*Context, error) {
	if driverName == "" {
		driverName = DefaultDriver()
	}
	driver, err := GetDriver(driverName)
	if err != nil {
		return nil, newError(CodeDeviceUnavailable, backendErrorf(StatusDeviceNotFound, "%v", err),
			"creating compute context")
	}
	backends, err := driver(options)
	if err != nil {
		return nil, newError(CodeDeviceUnavailable, err, "creating compute context for driver %q", driverName)
	}
	if len(backends) == 0 {
		return nil, newError(CodeDeviceUnavailable, backendErrorf(StatusDeviceNotFound, "no devices"),
			"creating compute context for driver %q", driverName)
	}
	c := &Context{driver: driverName}
	for ii, backend := range backends {
		c.devices = append(c.devices, newDevice(ii, backend))
	}
	klog.V(1).Infof("created %s", c)
	return c, nil
}

// Driver returns the name of the driver of the context.
func (c *Context) Driver() string { return c.driver }

// NumDevices returns the number of devices in the context.
func (c *Context) NumDevices() int { return len(c.devices) }

// Devices returns all devices of the context.
func (c *Context) Devices() []*Device { return c.devices }

// Device returns the device with the given id.
func (c *Context) Device(id int) (*Device, error) {
	if id < 0 || id >= len(c.devices) {
		return nil, newError(CodeDeviceUnavailable, backendErrorf(StatusInvalidDevice, "device #%d", id),
			"context has %d devices", len(c.devices))
	}
	return c.devices[id], nil
}

// Compile compiles program for every device, creating the shared kernels of the given entry points.
// It stops at the first device that fails.
func (c *Context) Compile(program *Program, defines Defines, entryPoints ...string) error {
	for _, d := range c.devices {
		if err := d.Compile(program, defines, entryPoints...); err != nil {
			return err
		}
	}
	return nil
}

// Destroy all devices. The Context is no longer valid afterward.
func (c *Context) Destroy() error {
	var firstErr error
	for _, d := range c.devices {
		if err := d.Destroy(); err != nil {
			klog.Errorf("Context.Destroy(): %+v", err)
			if firstErr == nil {
				firstErr = errors.WithMessagef(err, "destroying context for %q", c.driver)
			}
		}
	}
	c.devices = nil
	return firstErr
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	names := make([]string, len(c.devices))
	for ii, d := range c.devices {
		names[ii] = d.Name()
	}
	return fmt.Sprintf("compute.Context(%s: %s)", c.driver, strings.Join(names, ", "))
}
