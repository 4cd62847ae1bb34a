//go:build opencl

package compute

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
	"k8s.io/klog/v2"
)

// OpenCLDriverName is the name of the driver that runs the kernels on OpenCL devices.
// It is only registered when built with the `opencl` build tag.
const OpenCLDriverName = "opencl"

// Options of the opencl driver.
const (
	// OptionPlatform is the index of the OpenCL platform to use. Default is 0.
	OptionPlatform = "platform"

	// OptionDeviceType selects the devices of the platform: "gpu" (default), "cpu", "accelerator" or "all".
	OptionDeviceType = "device_type"
)

func init() {
	RegisterDriver(OpenCLDriverName, newOpenCLBackends)
}

var openclDeviceTypes = map[string]cl.DeviceType{
	"all":         cl.DeviceTypeAll,
	"gpu":         cl.DeviceTypeGPU,
	"cpu":         cl.DeviceTypeCPU,
	"accelerator": cl.DeviceTypeAccelerator,
}

// openclStatuses maps the errors of the OpenCL bindings to the Status of the failure.
var openclStatuses = map[error]Status{
	cl.ErrDeviceNotFound:             StatusDeviceNotFound,
	cl.ErrDeviceNotAvailable:         StatusDeviceNotAvailable,
	cl.ErrCompilerNotAvailable:       StatusCompilerNotAvailable,
	cl.ErrMemObjectAllocationFailure: StatusMemObjectAllocationFailure,
	cl.ErrOutOfResources:             StatusOutOfResources,
	cl.ErrOutOfHostMemory:            StatusOutOfHostMemory,
	cl.ErrBuildProgramFailure:        StatusBuildProgramFailure,
	cl.ErrInvalidValue:               StatusInvalidValue,
	cl.ErrInvalidMemObject:           StatusInvalidMemObject,
	cl.ErrInvalidImageSize:           StatusInvalidImageSize,
	cl.ErrInvalidKernelName:          StatusInvalidKernelName,
	cl.ErrInvalidArgIndex:            StatusInvalidArgIndex,
	cl.ErrInvalidArgValue:            StatusInvalidArgValue,
	cl.ErrInvalidArgSize:             StatusInvalidArgSize,
	cl.ErrInvalidKernelArgs:          StatusInvalidKernelArgs,
	cl.ErrInvalidWorkDimension:       StatusInvalidWorkDimension,
	cl.ErrInvalidWorkGroupSize:       StatusInvalidWorkGroupSize,
	cl.ErrInvalidBufferSize:          StatusInvalidBufferSize,
	cl.ErrInvalidGlobalWorkSize:      StatusInvalidGlobalWorkSize,
}

// openclErrorf converts an error of the OpenCL bindings to a BackendError with the matching Status.
func openclErrorf(err error, format string, args ...any) error {
	status := StatusInvalidOperation
	for clErr, s := range openclStatuses {
		if errors.Is(err, clErr) {
			status = s
			break
		}
	}
	var backendErr *BackendError
	var buildErr cl.BuildError
	var other cl.ErrOther
	if errors.As(err, &backendErr) {
		status = backendErr.Status
	} else if errors.As(err, &buildErr) {
		status = StatusBuildProgramFailure
	} else if errors.As(err, &other) {
		status = Status(other)
	}
	return backendErrorf(status, "%s: %v", fmt.Sprintf(format, args...), err)
}

func newOpenCLBackends(options Options) ([]Backend, error) {
	platformIdx, err := options.Int(OptionPlatform, 0)
	if err != nil {
		return nil, err
	}
	typeName, err := options.String(OptionDeviceType, "gpu")
	if err != nil {
		return nil, err
	}
	deviceType, found := openclDeviceTypes[strings.ToLower(typeName)]
	if !found {
		return nil, backendErrorf(StatusInvalidValue, "unknown OpenCL device type %q", typeName)
	}

	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, openclErrorf(err, "listing OpenCL platforms")
	}
	if platformIdx < 0 || platformIdx >= len(platforms) {
		return nil, backendErrorf(StatusDeviceNotFound, "OpenCL platform #%d requested, %d available",
			platformIdx, len(platforms))
	}
	platform := platforms[platformIdx]
	devices, err := platform.GetDevices(deviceType)
	if err == cl.ErrDeviceNotFound {
		klog.V(1).Infof("opencl driver: no %s devices on platform %q", typeName, platform.Name())
		return nil, nil
	}
	if err != nil {
		return nil, openclErrorf(err, "listing devices of OpenCL platform %q", platform.Name())
	}

	var backends []Backend
	for _, device := range devices {
		b, err := newOpenCLBackend(device)
		if err != nil {
			for _, created := range backends {
				if releaseErr := created.Release(); releaseErr != nil {
					klog.Errorf("opencl driver: releasing %q: %+v", created.Name(), releaseErr)
				}
			}
			return nil, err
		}
		backends = append(backends, b)
	}
	klog.V(1).Infof("opencl driver: %d device(s) on platform %q", len(backends), platform.Name())
	return backends, nil
}

// openclBackend is one OpenCL device, with its own context and in-order command queue.
type openclBackend struct {
	device  *cl.Device
	context *cl.Context
	queue   *cl.CommandQueue
}

func newOpenCLBackend(device *cl.Device) (*openclBackend, error) {
	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, openclErrorf(err, "creating OpenCL context for %q", device.Name())
	}
	queue, err := context.CreateCommandQueue(device, 0)
	if err != nil {
		context.Release()
		return nil, openclErrorf(err, "creating OpenCL command queue for %q", device.Name())
	}
	return &openclBackend{device: device, context: context, queue: queue}, nil
}

func (b *openclBackend) Name() string   { return b.device.Name() }
func (b *openclBackend) Driver() string { return OpenCLDriverName }

func (b *openclBackend) NewBuffer(size int) (Memory, error) {
	if size <= 0 {
		return nil, backendErrorf(StatusInvalidBufferSize, "buffer size %d", size)
	}
	mem, err := b.context.CreateEmptyBuffer(cl.MemReadWrite, size)
	if err != nil {
		return nil, openclErrorf(err, "allocating buffer of %d bytes", size)
	}
	return &openclMemory{mem: mem, kind: KindBuffer, size: size}, nil
}

// NewPlane allocates an RGBA image of 8-bit normalized channels, each texel holding 4 pixels.
func (b *openclBackend) NewPlane(width, height int) (Memory, error) {
	if width <= 0 || height <= 0 || width > MaxPlaneDimension || height > MaxPlaneDimension {
		return nil, backendErrorf(StatusInvalidImageSize, "plane %dx%d", width, height)
	}
	units, rows := PlaneDimensions(width, height)
	mem, err := b.context.CreateImageSimple(cl.MemReadWrite, units, rows, cl.ChannelOrderRGBA,
		cl.ChannelDataTypeUNormInt8, nil)
	if err != nil {
		return nil, openclErrorf(err, "allocating plane %dx%d (%dx%d texels)", width, height, units, rows)
	}
	return &openclMemory{mem: mem, kind: KindPlane, size: units * PixelsPerUnit * rows, units: units, rows: rows}, nil
}

func (b *openclBackend) WriteBuffer(dst Memory, data []byte) error {
	m, err := asOpenCLMemory(dst, KindBuffer)
	if err != nil || len(data) == 0 {
		return err
	}
	event, err := b.queue.EnqueueWriteBuffer(m.mem, true, 0, len(data), unsafe.Pointer(&data[0]), nil)
	if err != nil {
		return openclErrorf(err, "writing %d bytes to buffer", len(data))
	}
	event.Release()
	return nil
}

func (b *openclBackend) ReadBuffer(src Memory, data []byte) error {
	m, err := asOpenCLMemory(src, KindBuffer)
	if err != nil || len(data) == 0 {
		return err
	}
	event, err := b.queue.EnqueueReadBuffer(m.mem, true, 0, len(data), unsafe.Pointer(&data[0]), nil)
	if err != nil {
		return openclErrorf(err, "reading %d bytes from buffer", len(data))
	}
	event.Release()
	return nil
}

// WritePlane packs the rows into a staging area with the pitch of the image, padding them with zeros.
func (b *openclBackend) WritePlane(dst Memory, host []byte, cols, rows, pitch int) error {
	m, err := asOpenCLMemory(dst, KindPlane)
	if err != nil {
		return err
	}
	units := min((cols+PixelsPerUnit-1)/PixelsPerUnit, m.units)
	rows = min(rows, m.rows)
	rowPitch := units * PixelsPerUnit
	staging := make([]byte, rowPitch*rows)
	for y := range rows {
		copy(staging[y*rowPitch:y*rowPitch+cols], host[y*pitch:y*pitch+cols])
	}
	event, err := b.queue.EnqueueWriteImage(m.mem, true, [3]int{0, 0, 0}, [3]int{units, rows, 1}, rowPitch, 0, staging, nil)
	if err != nil {
		return openclErrorf(err, "writing %dx%d pixels to plane", cols, rows)
	}
	event.Release()
	return nil
}

func (b *openclBackend) ReadPlane(src Memory, host []byte, cols, rows, pitch int) error {
	m, err := asOpenCLMemory(src, KindPlane)
	if err != nil {
		return err
	}
	units := min((cols+PixelsPerUnit-1)/PixelsPerUnit, m.units)
	rows = min(rows, m.rows)
	rowPitch := units * PixelsPerUnit
	staging := make([]byte, rowPitch*rows)
	event, err := b.queue.EnqueueReadImage(m.mem, true, [3]int{0, 0, 0}, [3]int{units, rows, 1}, rowPitch, 0, staging, nil)
	if err != nil {
		return openclErrorf(err, "reading %dx%d pixels from plane", cols, rows)
	}
	event.Release()
	for y := range rows {
		copy(host[y*pitch:y*pitch+cols], staging[y*rowPitch:y*rowPitch+cols])
	}
	return nil
}

func (b *openclBackend) Compile(program *Program, defines Defines) (Executable, error) {
	clProgram, err := b.context.CreateProgramWithSource([]string{program.Source})
	if err != nil {
		return nil, openclErrorf(err, "creating program %q", program.Name)
	}
	options := defines.BuildOptions()
	if err = clProgram.BuildProgram([]*cl.Device{b.device}, options); err != nil {
		clProgram.Release()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, backendErrorf(StatusBuildProgramFailure, "building program %q with %q:\n%s",
				program.Name, options, string(buildErr))
		}
		return nil, openclErrorf(err, "building program %q with %q", program.Name, options)
	}
	klog.V(1).Infof("opencl driver: program %q built for %q with %q", program.Name, b.Name(), options)
	return &openclExecutable{backend: b, program: program, clProgram: clProgram}, nil
}

func (b *openclBackend) Release() error {
	b.queue.Release()
	b.context.Release()
	return nil
}

type openclMemory struct {
	mem         *cl.MemObject
	kind        MemoryKind
	size        int
	units, rows int
	released    bool
}

func (m *openclMemory) Kind() MemoryKind { return m.kind }
func (m *openclMemory) Size() int        { return m.size }

func (m *openclMemory) Release() error {
	if m.released {
		return backendErrorf(StatusInvalidMemObject, "%s of %d bytes released twice", m.kind, m.size)
	}
	m.released = true
	m.mem.Release()
	return nil
}

func asOpenCLMemory(m Memory, kind MemoryKind) (*openclMemory, error) {
	mem, ok := m.(*openclMemory)
	if !ok || mem.released || mem.kind != kind {
		return nil, backendErrorf(StatusInvalidMemObject, "not a live OpenCL %s: %T", kind, m)
	}
	return mem, nil
}

type openclExecutable struct {
	backend   *openclBackend
	program   *Program
	clProgram *cl.Program
}

func (e *openclExecutable) NewKernel(name string) (KernelInstance, error) {
	def := e.program.Kernel(name)
	if def == nil {
		return nil, backendErrorf(StatusInvalidKernelName, "program %q has no kernel %q", e.program.Name, name)
	}
	kernel, err := e.clProgram.CreateKernel(name)
	if err != nil {
		return nil, openclErrorf(err, "creating kernel %q", name)
	}
	return &openclKernel{executable: e, def: def, kernel: kernel}, nil
}

func (e *openclExecutable) Release() error {
	e.clProgram.Release()
	return nil
}

type openclKernel struct {
	executable *openclExecutable
	def        *KernelDef
	kernel     *cl.Kernel
}

func (k *openclKernel) Name() string    { return k.def.Name }
func (k *openclKernel) Params() []Param { return k.def.Params }

func (k *openclKernel) Release() error {
	k.kernel.Release()
	return nil
}

func (k *openclKernel) setArg(index int, arg Value) error {
	if arg.Memory != nil {
		m, err := asOpenCLMemory(arg.Memory, arg.Memory.Kind())
		if err != nil {
			return err
		}
		return k.kernel.SetArg(index, m.mem)
	}
	switch v := arg.Scalar.(type) {
	case int32, uint32, float32:
		return k.kernel.SetArg(index, v)
	case Int2:
		return k.kernel.SetArgUnsafe(index, int(unsafe.Sizeof(v)), unsafe.Pointer(&v))
	}
	return backendErrorf(StatusInvalidArgValue, "unsupported argument type %T", arg.Scalar)
}

// Launch binds the arguments, enqueues the kernel and waits for it.
func (k *openclKernel) Launch(args []Value, global, local []int) error {
	if len(args) != len(k.def.Params) {
		return backendErrorf(StatusInvalidKernelArgs, "kernel %q takes %d arguments, %d given",
			k.def.Name, len(k.def.Params), len(args))
	}
	for ii, arg := range args {
		if err := k.setArg(ii, arg); err != nil {
			return openclErrorf(err, "kernel %q argument #%d (%s)", k.def.Name, ii, k.def.Params[ii].Name)
		}
	}
	queue := k.executable.backend.queue
	event, err := queue.EnqueueNDRangeKernel(k.kernel, nil, global, local, nil)
	if err != nil {
		return openclErrorf(err, "enqueuing kernel %q with global=%v, local=%v", k.def.Name, global, local)
	}
	defer event.Release()
	if err = cl.WaitForEvents([]*cl.Event{event}); err != nil {
		return openclErrorf(err, "running kernel %q", k.def.Name)
	}
	return nil
}
