package compute

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Device is one compute device of a Context: it owns a CommandQueue, a Buffers registry and the kernels of the
// compiled Program.
//
// Kernels are available after the Context (or the Device) compiles a Program. Kernel returns the shared instance
// of an entry point, and NewKernelInstance creates independent instances, with their own argument slots, for
// callers that bind different arguments to the same entry point.
type Device struct {
	id         int
	backend    Backend
	queue      *CommandQueue
	buffers    *Buffers
	executable Executable
	kernels    map[string]*Kernel
	instances  []*Kernel
}

func newDevice(id int, backend Backend) *Device {
	queue := newCommandQueue(fmt.Sprintf("%s#%d", backend.Driver(), id))
	return &Device{
		id:      id,
		backend: backend,
		queue:   queue,
		buffers: newBuffers(backend, queue),
		kernels: make(map[string]*Kernel),
	}
}

// ID of the device in its Context.
func (d *Device) ID() int { return d.id }

// Name of the device model.
func (d *Device) Name() string { return d.backend.Name() }

// Driver name of the device.
func (d *Device) Driver() string { return d.backend.Driver() }

// String implements fmt.Stringer.
func (d *Device) String() string {
	return fmt.Sprintf("Device(#%d, %s: %s)", d.id, d.backend.Driver(), d.backend.Name())
}

// Buffers returns the registry of the device memory objects.
func (d *Device) Buffers() *Buffers { return d.buffers }

// Queue returns the device command queue.
func (d *Device) Queue() *CommandQueue { return d.queue }

// Finish blocks until every command enqueued on the device so far has run.
func (d *Device) Finish() error {
	return d.queue.Finish()
}

// Compile compiles program with the given defines and creates one shared Kernel per entry point.
// A previously compiled program, and all its kernels, are released.
// Any failure aborts the whole batch and leaves the device with no kernels.
func (d *Device) Compile(program *Program, defines Defines, entryPoints ...string) error {
	if err := d.releaseProgram(); err != nil {
		klog.Errorf("%s: releasing previous program: %+v", d, err)
	}
	if missing := program.missingDefines(defines); len(missing) > 0 {
		return newError(CodeKernelCompilationFailed,
			backendErrorf(StatusBuildProgramFailure, "missing defines %q", missing),
			"compiling program %q on %s", program.Name, d)
	}
	executable, err := d.backend.Compile(program, defines)
	if err != nil {
		return newError(CodeKernelCompilationFailed, err, "compiling program %q on %s", program.Name, d)
	}
	kernels := make(map[string]*Kernel, len(entryPoints))
	for _, name := range entryPoints {
		instance, err := executable.NewKernel(name)
		if err != nil {
			for _, k := range kernels {
				_ = k.release()
			}
			if err2 := executable.Release(); err2 != nil {
				klog.Errorf("%s: releasing program %q: %+v", d, program.Name, err2)
			}
			return newError(CodeKernelCompilationFailed, err, "creating kernel %q of program %q on %s",
				name, program.Name, d)
		}
		kernels[name] = newKernel(d, instance)
	}
	d.executable = executable
	d.kernels = kernels
	klog.V(1).Infof("%s: compiled program %q (%s) with %d entry points", d, program.Name, defines.BuildOptions(),
		len(entryPoints))
	return nil
}

// Kernel returns the shared instance of the named entry point.
func (d *Device) Kernel(name string) (*Kernel, error) {
	k, found := d.kernels[name]
	if !found {
		return nil, newError(CodeKernelCompilationFailed,
			backendErrorf(StatusInvalidKernelName, "kernel %q", name), "%s has no compiled kernel %q", d, name)
	}
	return k, nil
}

// NewKernelInstance creates a new, independent, instance of the named entry point of the compiled program.
// It is released when the program is released.
func (d *Device) NewKernelInstance(name string) (*Kernel, error) {
	if d.executable == nil {
		return nil, newError(CodeKernelCompilationFailed,
			backendErrorf(StatusInvalidProgramExecutable, "no program compiled"), "creating kernel %q on %s", name, d)
	}
	instance, err := d.executable.NewKernel(name)
	if err != nil {
		return nil, newError(CodeKernelCompilationFailed, err, "creating kernel %q on %s", name, d)
	}
	k := newKernel(d, instance)
	d.instances = append(d.instances, k)
	return k, nil
}

// releaseProgram releases the kernels and the executable, if any.
func (d *Device) releaseProgram() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, k := range d.kernels {
		keep(k.release())
	}
	for _, k := range d.instances {
		keep(k.release())
	}
	d.kernels = make(map[string]*Kernel)
	d.instances = nil
	if d.executable != nil {
		keep(d.executable.Release())
		d.executable = nil
	}
	return firstErr
}

// Destroy waits for pending commands, then releases all memory objects, kernels and the backend device.
// The Device is no longer valid afterward.
func (d *Device) Destroy() error {
	if d.backend == nil {
		return nil
	}
	d.queue.Close()
	var firstErr error
	if err := d.buffers.DestroyAll(); err != nil {
		firstErr = err
	}
	if err := d.releaseProgram(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.backend.Release(); err != nil && firstErr == nil {
		firstErr = errors.WithMessagef(err, "releasing %s", d)
	}
	klog.V(1).Infof("%s destroyed", d)
	d.backend = nil
	return firstErr
}
