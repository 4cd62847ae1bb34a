package compute

// MemoryKind distinguishes the two kinds of device memory objects.
type MemoryKind int

const (
	// KindBuffer is a plain buffer of bytes.
	KindBuffer MemoryKind = iota

	// KindPlane is a 2D plane of 8-bit pixels, stored in units of PixelsPerUnit pixels.
	// Reads outside the stored area return 0 and writes outside it are dropped.
	KindPlane
)

// String implements fmt.Stringer.
func (k MemoryKind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindPlane:
		return "plane"
	default:
		return "invalid"
	}
}

// Memory is a memory object allocated by a Backend.
type Memory interface {
	Kind() MemoryKind

	// Size in bytes of the storage.
	Size() int

	// Release frees the memory object. Releasing it a second time returns an error.
	Release() error
}

// Backend is one device of a driver. Its methods are blocking and are only called from the device's
// CommandQueue goroutine (transfers and launches) or from the controlling goroutine (allocations and
// compilation).
type Backend interface {
	// Name of the device model.
	Name() string

	// Driver name that created the backend.
	Driver() string

	// NewBuffer allocates a plain buffer of size bytes.
	NewBuffer(size int) (Memory, error)

	// NewPlane allocates a plane of width x height pixels.
	NewPlane(width, height int) (Memory, error)

	WriteBuffer(dst Memory, data []byte) error
	ReadBuffer(src Memory, data []byte) error

	// WritePlane copies rows x cols pixels from host, whose rows are pitch bytes apart, to the top-left
	// corner of the plane.
	WritePlane(dst Memory, host []byte, cols, rows, pitch int) error

	// ReadPlane copies rows x cols pixels from the top-left corner of the plane to host, whose rows are pitch
	// bytes apart.
	ReadPlane(src Memory, host []byte, cols, rows, pitch int) error

	// Compile the program with the given defines.
	Compile(program *Program, defines Defines) (Executable, error)

	// Release the device.
	Release() error
}

// Executable is a Program compiled for a Backend.
type Executable interface {
	// NewKernel creates an independent instance of the named entry point.
	NewKernel(name string) (KernelInstance, error)
	Release() error
}

// KernelInstance is a backend kernel of an Executable.
type KernelInstance interface {
	Name() string

	// Params returns the declared parameters of the kernel, in order.
	Params() []Param

	// Launch runs the kernel over the given global work size, split in work groups of the given
	// local work size, and blocks until it is done. args has one bound value per parameter.
	Launch(args []Value, global, local []int) error

	Release() error
}

// Value is an argument bound to a kernel parameter: either a scalar (int32, uint32, float32, Int2)
// or a memory object.
type Value struct {
	Scalar any
	Memory Memory
}
