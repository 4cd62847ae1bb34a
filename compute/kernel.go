package compute

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/pkg/errors"
)

// Kernel is one instance of a compiled entry point, with its own argument slots and execution domain.
//
// Arguments are bound positionally, either sequentially with SetArg or by index with SetNumberedArg,
// and may be re-bound between executions. Each execution enqueues a snapshot of the bound arguments, so
// re-binding after an Execute call doesn't affect the already enqueued dispatch.
//
// Binding an argument that doesn't match the kernel's declared parameter (wrong size, wrong memory kind,
// unknown handle, index out of range) permanently invalidates the instance: every later execution fails.
//
// The global work size along each axis is ceil(scalarGlobal / (local * item)) * local, where scalarGlobal is
// the number of elements to process, item the number of elements processed by each work item and local the
// work-group size.
//
// A Kernel is not reentrant: bind and execute from one goroutine only.
type Kernel struct {
	device   *Device
	instance KernelInstance
	name     string
	params   []Param

	args            []Value
	bound           []bool
	argumentCounter int
	argumentsValid  bool
	lastStatus      Status

	workDim                                         int
	localWorkSize, scalarGlobalSize, scalarItemSize []int
}

func newKernel(device *Device, instance KernelInstance) *Kernel {
	params := instance.Params()
	return &Kernel{
		device:         device,
		instance:       instance,
		name:           instance.Name(),
		params:         params,
		args:           make([]Value, len(params)),
		bound:          make([]bool, len(params)),
		argumentsValid: true,
	}
}

// Name of the kernel entry point.
func (k *Kernel) Name() string { return k.name }

// String implements fmt.Stringer.
func (k *Kernel) String() string {
	return fmt.Sprintf("Kernel(%s on device #%d)", k.name, k.device.id)
}

// Params returns the declared parameters of the kernel.
func (k *Kernel) Params() []Param { return k.params }

// ArgumentsValid returns false if any argument binding ever failed.
func (k *Kernel) ArgumentsValid() bool { return k.argumentsValid }

// LastStatus returns the backend status of the last failed binding or enqueue, or StatusSuccess.
func (k *Kernel) LastStatus() Status { return k.lastStatus }

// SetArg binds value to the next argument: the first call binds argument 0, the second argument 1, etc.
//
// value must match the declared parameter: int32 or uint32 for ParamInt and ParamUint, float32 for ParamFloat,
// Int2 for ParamInt2 and a Handle of the right kind for memory parameters.
// Notice that Go's int is 8 bytes, so it doesn't bind to a 4-byte parameter.
func (k *Kernel) SetArg(value any) error {
	index := k.argumentCounter
	k.argumentCounter++
	return k.SetNumberedArg(index, value)
}

// SetNumberedArg binds, or re-binds, value to the argument index. See SetArg for the accepted values.
func (k *Kernel) SetNumberedArg(index int, value any) error {
	v, err := k.resolve(index, value)
	if err != nil {
		k.argumentsValid = false
		k.lastStatus = StatusOf(err)
		return newError(CodeKernelArgumentInvalid, err, "kernel %q argument #%d", k.name, index)
	}
	k.args[index] = v
	k.bound[index] = true
	return nil
}

// argSize returns the size in bytes of a Go value passed as argument, or -1 for unsupported types.
func argSize(value any) int {
	switch value.(type) {
	case int32, uint32, float32:
		return 4
	case Int2, int64, uint64, float64, Handle:
		return 8
	case int, uint:
		return strconv.IntSize / 8
	default:
		return -1
	}
}

func (k *Kernel) resolve(index int, value any) (Value, error) {
	if index < 0 || index >= len(k.params) {
		return Value{}, backendErrorf(StatusInvalidArgIndex, "kernel %q has %d parameters", k.name, len(k.params))
	}
	param := k.params[index]
	size := argSize(value)
	if size < 0 {
		return Value{}, backendErrorf(StatusInvalidArgValue, "parameter %q: unsupported argument type %T", param.Name, value)
	}
	if size != param.Kind.Size() {
		return Value{}, backendErrorf(StatusInvalidArgSize, "parameter %q (%s) takes %d bytes, got %T of %d bytes",
			param.Name, param.Kind, param.Kind.Size(), value, size)
	}
	if param.Kind.IsMemory() {
		h, ok := value.(Handle)
		if !ok {
			return Value{}, backendErrorf(StatusInvalidMemObject, "parameter %q (%s) takes a Handle, got %T",
				param.Name, param.Kind, value)
		}
		mem, found := k.device.buffers.memory(h)
		if !found {
			return Value{}, backendErrorf(StatusInvalidMemObject, "parameter %q: unknown handle %d", param.Name, h)
		}
		if mem.Kind() != param.Kind.MemoryKind() {
			return Value{}, backendErrorf(StatusInvalidMemObject, "parameter %q (%s): handle %d is a %s",
				param.Name, param.Kind, h, mem.Kind())
		}
		return Value{Memory: mem}, nil
	}
	switch param.Kind {
	case ParamInt:
		switch v := value.(type) {
		case int32:
			return Value{Scalar: v}, nil
		case uint32:
			return Value{Scalar: int32(v)}, nil
		}
	case ParamUint:
		switch v := value.(type) {
		case uint32:
			return Value{Scalar: v}, nil
		case int32:
			return Value{Scalar: uint32(v)}, nil
		}
	case ParamFloat:
		if v, ok := value.(float32); ok {
			return Value{Scalar: v}, nil
		}
	case ParamInt2:
		if v, ok := value.(Int2); ok {
			return Value{Scalar: v}, nil
		}
	}
	return Value{}, backendErrorf(StatusInvalidArgValue, "parameter %q (%s) can't take a %T", param.Name, param.Kind, value)
}

// SetWorkDim sets the number of dimensions (1 to 3) of the execution domain.
func (k *Kernel) SetWorkDim(n int) error {
	if n < 1 || n > 3 {
		return newError(CodeInvalidParameter, backendErrorf(StatusInvalidWorkDimension, "work dim %d", n),
			"kernel %q", k.name)
	}
	k.workDim = n
	return nil
}

// SetLocalWorkSize sets the work-group size along each dimension.
func (k *Kernel) SetLocalWorkSize(sizes ...int) {
	k.localWorkSize = slices.Clone(sizes)
}

// SetScalarGlobalSize sets the number of elements to process along each dimension.
func (k *Kernel) SetScalarGlobalSize(sizes ...int) {
	k.scalarGlobalSize = slices.Clone(sizes)
}

// SetScalarItemSize sets the number of elements each work item processes along each dimension.
func (k *Kernel) SetScalarItemSize(sizes ...int) {
	k.scalarItemSize = slices.Clone(sizes)
}

// GlobalWorkSize returns the global work size computed from the execution domain.
func (k *Kernel) GlobalWorkSize() ([]int, error) {
	if k.workDim == 0 {
		return nil, backendErrorf(StatusInvalidWorkDimension, "work dim not set")
	}
	for _, sizes := range [][]int{k.localWorkSize, k.scalarGlobalSize, k.scalarItemSize} {
		if len(sizes) != k.workDim {
			return nil, backendErrorf(StatusInvalidWorkDimension,
				"work dim is %d, but local=%v, scalar global=%v and item=%v sizes given",
				k.workDim, k.localWorkSize, k.scalarGlobalSize, k.scalarItemSize)
		}
	}
	global := make([]int, k.workDim)
	for ii := range global {
		local, item, scalar := k.localWorkSize[ii], k.scalarItemSize[ii], k.scalarGlobalSize[ii]
		if local <= 0 {
			return nil, backendErrorf(StatusInvalidWorkGroupSize, "local work size %v", k.localWorkSize)
		}
		if item <= 0 || scalar <= 0 {
			return nil, backendErrorf(StatusInvalidGlobalWorkSize, "scalar global size %v with item size %v",
				k.scalarGlobalSize, k.scalarItemSize)
		}
		global[ii] = ceilDiv(scalar, local*item) * local
	}
	return global, nil
}

// prepare runs the pre-flight checks of an execution and returns the global work size.
func (k *Kernel) prepare() ([]int, error) {
	if k.instance == nil {
		return nil, newError(CodeExecutionFailed, backendErrorf(StatusInvalidKernel, "kernel released"),
			"kernel %q", k.name)
	}
	if !k.argumentsValid {
		return nil, newError(CodeKernelArgumentInvalid,
			backendErrorf(k.lastStatus, "a previous argument binding failed"), "kernel %q", k.name)
	}
	for ii, bound := range k.bound {
		if !bound {
			return nil, newError(CodeKernelArgumentInvalid,
				backendErrorf(StatusInvalidKernelArgs, "argument #%d (%s) not set", ii, k.params[ii].Name),
				"kernel %q", k.name)
		}
	}
	global, err := k.GlobalWorkSize()
	if err != nil {
		return nil, newError(CodeInvalidParameter, err, "kernel %q execution domain", k.name)
	}
	return global, nil
}

// Execute enqueues the kernel with the currently bound arguments and returns its completion Event.
// On failure it returns a nil Event.
func (k *Kernel) Execute() (*Event, error) {
	return k.ExecuteWaitList()
}

// ExecuteAsync enqueues the kernel to run after antecedent completes. A nil antecedent is the same as Execute.
func (k *Kernel) ExecuteAsync(antecedent *Event) (*Event, error) {
	if antecedent == nil {
		return k.ExecuteWaitList()
	}
	return k.ExecuteWaitList(antecedent)
}

// ExecuteWaitList enqueues the kernel to run after all the antecedents complete.
func (k *Kernel) ExecuteWaitList(antecedents ...*Event) (*Event, error) {
	global, err := k.prepare()
	if err != nil {
		return nil, err
	}
	args := slices.Clone(k.args)
	local := slices.Clone(k.localWorkSize)
	instance, name := k.instance, k.name
	e, err := k.device.queue.Enqueue(name, antecedents, func() error {
		if err := instance.Launch(args, global, local); err != nil {
			return newError(CodeExecutionFailed, err, "kernel %q (global=%v, local=%v)", name, global, local)
		}
		return nil
	})
	if err != nil {
		k.lastStatus = StatusOf(err)
		return nil, newError(CodeExecutionFailed, err, "enqueueing kernel %q", name)
	}
	return e, nil
}

// release the backend instance.
func (k *Kernel) release() error {
	if k.instance == nil {
		return nil
	}
	err := k.instance.Release()
	k.instance = nil
	k.argumentsValid = false
	return errors.WithMessagef(err, "releasing kernel %q", k.name)
}
