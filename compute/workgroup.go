package compute

import (
	"unsafe"

	"github.com/gomlx/exceptions"
)

// WorkGroup is the execution context of one work group of a kernel launched by the software driver.
//
// The KernelFunc of the kernel reads its arguments with the typed accessors below, which panic (and fail the
// launch) if the argument index is out of range or of a different kind.
type WorkGroup struct {
	// ID of the group along each dimension.
	ID [3]int

	// NumGroups along each dimension.
	NumGroups [3]int

	// Size is the local work size along each dimension.
	Size [3]int

	// Dims is the number of dimensions of the launch.
	Dims int

	kernel  *KernelDef
	defines Defines
	args    []Value
}

// GlobalSize returns the global work size along dimension dim.
func (g *WorkGroup) GlobalSize(dim int) int {
	return g.NumGroups[dim] * g.Size[dim]
}

// Define returns the value of the named define the program was compiled with.
func (g *WorkGroup) Define(name string) int {
	value, found := g.defines[name]
	if !found {
		exceptions.Panicf("kernel %q: define %q not set", g.kernel.Name, name)
	}
	return value
}

func (g *WorkGroup) arg(index int, kinds ...ParamKind) Value {
	if index < 0 || index >= len(g.args) {
		exceptions.Panicf("kernel %q: argument #%d out of range (%d arguments)", g.kernel.Name, index, len(g.args))
	}
	kind := g.kernel.Params[index].Kind
	for _, k := range kinds {
		if k == kind {
			return g.args[index]
		}
	}
	exceptions.Panicf("kernel %q: argument #%d (%s) is a %s, wanted one of %v", g.kernel.Name, index,
		g.kernel.Params[index].Name, kind, kinds)
	panic("unreachable")
}

// Int returns the int argument index.
func (g *WorkGroup) Int(index int) int32 {
	return g.arg(index, ParamInt).Scalar.(int32)
}

// Uint returns the uint argument index.
func (g *WorkGroup) Uint(index int) uint32 {
	return g.arg(index, ParamUint).Scalar.(uint32)
}

// Float returns the float argument index.
func (g *WorkGroup) Float(index int) float32 {
	return g.arg(index, ParamFloat).Scalar.(float32)
}

// Int2 returns the int2 argument index.
func (g *WorkGroup) Int2(index int) Int2 {
	return g.arg(index, ParamInt2).Scalar.(Int2)
}

// Uint32s returns the buffer argument index viewed as 32-bit unsigned integers.
func (g *WorkGroup) Uint32s(index int) []uint32 {
	buf := g.arg(index, ParamBuffer, ParamConstant).Memory.(*softwareBuffer)
	return buf.words[:buf.size/4]
}

// Float32s returns the buffer argument index viewed as 32-bit floats.
func (g *WorkGroup) Float32s(index int) []float32 {
	words := g.Uint32s(index)
	if len(words) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&words[0])), len(words))
}

// Plane returns the plane argument index.
func (g *WorkGroup) Plane(index int) *HostPlane {
	return g.arg(index, ParamReadPlane, ParamWritePlane).Memory.(*softwarePlane).plane
}
