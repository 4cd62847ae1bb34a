package compute

import (
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// SoftwareDriverName is the name of the pure Go driver, always registered.
const SoftwareDriverName = "software"

// Software driver options.
const (
	// OptionWorkers is the maximum number of work groups run in parallel. Default is the number of logical cores.
	OptionWorkers = "workers"

	// OptionMemoryLimit is the maximum number of bytes a device can allocate. Default is half the system memory.
	OptionMemoryLimit = "memory_limit"

	// OptionDevices is the number of devices the driver exposes. Default is 1.
	OptionDevices = "devices"
)

const (
	// MaxWorkGroupSize is the maximum number of work items in one work group of the software driver.
	MaxWorkGroupSize = 1024

	// MaxPlaneDimension is the maximum width or height of a plane of the software driver.
	MaxPlaneDimension = 16384

	defaultMemoryLimit = int64(1) << 30
)

func init() {
	RegisterDriver(SoftwareDriverName, newSoftwareBackends)
}

func newSoftwareBackends(options Options) ([]Backend, error) {
	numDevices, err := options.Int(OptionDevices, 1)
	if err != nil {
		return nil, err
	}
	workers, err := options.Int(OptionWorkers, cpuid.CPU.LogicalCores)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	limit := int64(memory.TotalMemory() / 2)
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	if limit, err = options.Int64(OptionMemoryLimit, limit); err != nil {
		return nil, err
	}
	name := cpuid.CPU.BrandName
	if name == "" {
		name = runtime.GOARCH
	}
	backends := make([]Backend, numDevices)
	for ii := range backends {
		backends[ii] = &softwareBackend{
			name:        fmt.Sprintf("%s (%d workers)", name, workers),
			workers:     workers,
			memoryLimit: limit,
		}
	}
	klog.V(1).Infof("software driver: %d device(s) on %q, %d workers, memory limit %d bytes",
		numDevices, name, workers, limit)
	return backends, nil
}

// softwareBackend emulates a compute device in host memory, running the Go implementation of the kernels.
type softwareBackend struct {
	name        string
	workers     int
	memoryLimit int64
	allocated   atomic.Int64
}

func (b *softwareBackend) Name() string   { return b.name }
func (b *softwareBackend) Driver() string { return SoftwareDriverName }

func (b *softwareBackend) reserve(size int) error {
	if b.allocated.Add(int64(size)) > b.memoryLimit {
		b.allocated.Add(-int64(size))
		return backendErrorf(StatusMemObjectAllocationFailure, "allocating %d bytes: %d of %d bytes in use",
			size, b.allocated.Load(), b.memoryLimit)
	}
	return nil
}

func (b *softwareBackend) NewBuffer(size int) (Memory, error) {
	if size <= 0 {
		return nil, backendErrorf(StatusInvalidBufferSize, "buffer size %d", size)
	}
	if err := b.reserve(size); err != nil {
		return nil, err
	}
	return &softwareBuffer{
		backend: b,
		size:    size,
		words:   make([]uint32, ceilDiv(size, 4)),
	}, nil
}

func (b *softwareBackend) NewPlane(width, height int) (Memory, error) {
	if width <= 0 || height <= 0 || width > MaxPlaneDimension || height > MaxPlaneDimension {
		return nil, backendErrorf(StatusInvalidImageSize, "plane %dx%d", width, height)
	}
	units, rows := PlaneDimensions(width, height)
	size := units * PixelsPerUnit * rows
	if err := b.reserve(size); err != nil {
		return nil, err
	}
	return &softwarePlane{backend: b, plane: NewHostPlane(width, height)}, nil
}

func (b *softwareBackend) WriteBuffer(dst Memory, data []byte) error {
	buf, err := asSoftwareBuffer(dst)
	if err != nil {
		return err
	}
	copy(buf.bytes(), data)
	return nil
}

func (b *softwareBackend) ReadBuffer(src Memory, data []byte) error {
	buf, err := asSoftwareBuffer(src)
	if err != nil {
		return err
	}
	copy(data, buf.bytes())
	return nil
}

func (b *softwareBackend) WritePlane(dst Memory, host []byte, cols, rows, pitch int) error {
	p, err := asSoftwarePlane(dst)
	if err != nil {
		return err
	}
	stride := p.plane.Stride()
	for y := range rows {
		copy(p.plane.Pix[y*stride:y*stride+cols], host[y*pitch:y*pitch+cols])
	}
	return nil
}

func (b *softwareBackend) ReadPlane(src Memory, host []byte, cols, rows, pitch int) error {
	p, err := asSoftwarePlane(src)
	if err != nil {
		return err
	}
	stride := p.plane.Stride()
	for y := range rows {
		copy(host[y*pitch:y*pitch+cols], p.plane.Pix[y*stride:y*stride+cols])
	}
	return nil
}

func (b *softwareBackend) Compile(program *Program, defines Defines) (Executable, error) {
	for _, def := range program.Kernels {
		if def.Run == nil {
			return nil, backendErrorf(StatusBuildProgramFailure, "program %q: kernel %q has no software implementation",
				program.Name, def.Name)
		}
	}
	return &softwareExecutable{backend: b, program: program, defines: defines}, nil
}

func (b *softwareBackend) Release() error {
	if n := b.allocated.Load(); n != 0 {
		klog.Warningf("software device %q released with %d bytes still allocated", b.name, n)
	}
	return nil
}

// softwareBuffer stores its bytes in 32-bit words, so it can be viewed as []uint32 or []float32 by kernels.
type softwareBuffer struct {
	backend *softwareBackend
	size    int
	words   []uint32
	freed   bool
}

func (m *softwareBuffer) Kind() MemoryKind { return KindBuffer }
func (m *softwareBuffer) Size() int        { return m.size }

func (m *softwareBuffer) bytes() []byte {
	if len(m.words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&m.words[0])), m.size)
}

func (m *softwareBuffer) Release() error {
	if m.freed {
		return backendErrorf(StatusInvalidMemObject, "buffer of %d bytes released twice", m.size)
	}
	m.freed = true
	m.backend.allocated.Add(-int64(m.size))
	m.words = nil
	return nil
}

type softwarePlane struct {
	backend *softwareBackend
	plane   *HostPlane
	freed   bool
}

func (m *softwarePlane) Kind() MemoryKind { return KindPlane }
func (m *softwarePlane) Size() int        { return len(m.plane.Pix) }

func (m *softwarePlane) Release() error {
	if m.freed {
		return backendErrorf(StatusInvalidMemObject, "plane %dx%d released twice", m.plane.Width, m.plane.Height)
	}
	m.freed = true
	m.backend.allocated.Add(-int64(len(m.plane.Pix)))
	return nil
}

func asSoftwareBuffer(m Memory) (*softwareBuffer, error) {
	buf, ok := m.(*softwareBuffer)
	if !ok || buf.freed {
		return nil, backendErrorf(StatusInvalidMemObject, "not a live software buffer: %T", m)
	}
	return buf, nil
}

func asSoftwarePlane(m Memory) (*softwarePlane, error) {
	p, ok := m.(*softwarePlane)
	if !ok || p.freed {
		return nil, backendErrorf(StatusInvalidMemObject, "not a live software plane: %T", m)
	}
	return p, nil
}

type softwareExecutable struct {
	backend *softwareBackend
	program *Program
	defines Defines
}

func (e *softwareExecutable) NewKernel(name string) (KernelInstance, error) {
	def := e.program.Kernel(name)
	if def == nil {
		return nil, backendErrorf(StatusInvalidKernelName, "program %q has no kernel %q", e.program.Name, name)
	}
	return &softwareKernel{executable: e, def: def}, nil
}

func (e *softwareExecutable) Release() error { return nil }

type softwareKernel struct {
	executable *softwareExecutable
	def        *KernelDef
}

func (k *softwareKernel) Name() string    { return k.def.Name }
func (k *softwareKernel) Params() []Param { return k.def.Params }
func (k *softwareKernel) Release() error  { return nil }

// Launch runs the work groups in parallel, at most backend.workers at a time, and waits for all of them.
func (k *softwareKernel) Launch(args []Value, global, local []int) error {
	dims := len(global)
	if dims < 1 || dims > 3 || len(local) != dims {
		return backendErrorf(StatusInvalidWorkDimension, "kernel %q: global=%v, local=%v", k.def.Name, global, local)
	}
	if len(args) != len(k.def.Params) {
		return backendErrorf(StatusInvalidKernelArgs, "kernel %q takes %d arguments, %d given",
			k.def.Name, len(k.def.Params), len(args))
	}
	if k.def.LocalSize != nil && !slices.Equal(k.def.LocalSize, local) {
		return backendErrorf(StatusInvalidWorkGroupSize, "kernel %q requires local size %v, got %v",
			k.def.Name, k.def.LocalSize, local)
	}
	var size, numGroups [3]int
	items := 1
	for ii := range 3 {
		size[ii], numGroups[ii] = 1, 1
		if ii >= dims {
			continue
		}
		if local[ii] <= 0 || global[ii] <= 0 || global[ii]%local[ii] != 0 {
			return backendErrorf(StatusInvalidWorkGroupSize, "kernel %q: global=%v not a multiple of local=%v",
				k.def.Name, global, local)
		}
		size[ii], numGroups[ii] = local[ii], global[ii]/local[ii]
		items *= local[ii]
	}
	if items > MaxWorkGroupSize {
		return backendErrorf(StatusInvalidWorkGroupSize, "kernel %q: work group %v has more than %d items",
			k.def.Name, local, MaxWorkGroupSize)
	}
	for ii, arg := range args {
		if arg.Memory != nil {
			if err := checkLive(arg.Memory); err != nil {
				return backendErrorf(StatusInvalidMemObject, "kernel %q argument #%d: %v", k.def.Name, ii, err)
			}
		}
	}

	var group errgroup.Group
	group.SetLimit(k.executable.backend.workers)
	for gz := range numGroups[2] {
		for gy := range numGroups[1] {
			for gx := range numGroups[0] {
				g := &WorkGroup{
					ID:        [3]int{gx, gy, gz},
					NumGroups: numGroups,
					Size:      size,
					Dims:      dims,
					kernel:    k.def,
					defines:   k.executable.defines,
					args:      args,
				}
				group.Go(func() error { return runWorkGroup(k.def, g) })
			}
		}
	}
	return group.Wait()
}

func runWorkGroup(def *KernelDef, g *WorkGroup) error {
	err := exceptions.TryCatch[error](func() { def.Run(g) })
	if err != nil {
		return backendErrorf(StatusOutOfResources, "kernel %q failed in work group %v: %v", def.Name, g.ID, err)
	}
	return nil
}

func checkLive(m Memory) error {
	switch mem := m.(type) {
	case *softwareBuffer:
		_, err := asSoftwareBuffer(mem)
		return err
	case *softwarePlane:
		_, err := asSoftwarePlane(mem)
		return err
	}
	return backendErrorf(StatusInvalidMemObject, "memory object %T is not from the software driver", m)
}
