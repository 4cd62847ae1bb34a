// Package compute manages compute devices for plane filtering kernels.
//
// A Context is created for a named driver (see RegisterDriver) and owns one Device per backend device
// the driver exposes. Each Device has:
//
//   - a Buffers registry, mapping integer Handle values to device memory objects (plain buffers or
//     planes of 8-bit pixels, stored in units of 4 pixels);
//   - a CommandQueue that runs copies and kernel dispatches strictly in order, each one optionally
//     waiting on a list of antecedent Event;
//   - the Kernel instances of the compiled Program, looked up by entry point name.
//
// Two drivers are provided: "software", a pure Go emulation of an NDRange device that runs the
// Go implementation of each kernel over its work groups, and "opencl" (only available when built
// with the `opencl` build tag), which compiles the OpenCL C source of the Program.
//
// The package is not safe for concurrent use by more than one host goroutine per Device: the
// Buffers registry and Kernel argument slots are owned by the controlling goroutine. Work submitted
// to the CommandQueue runs asynchronously and is observed through Event values.
package compute

import "os"

// DriverEnv is the environment variable that overrides the default driver name used by NewContext
// when it is given an empty name.
const DriverEnv = "NLMEANS_DRIVER"

// DefaultDriver returns the name of the driver used when none is specified: the value of the
// NLMEANS_DRIVER environment variable if set, or SoftwareDriverName otherwise.
func DefaultDriver() string {
	if name := os.Getenv(DriverEnv); name != "" {
		return name
	}
	return SoftwareDriverName
}
