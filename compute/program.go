package compute

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Int2 is a pair of 32-bit integers, the equivalent of an OpenCL int2.
type Int2 struct {
	X, Y int32
}

// String implements fmt.Stringer.
func (v Int2) String() string {
	return fmt.Sprintf("(%d, %d)", v.X, v.Y)
}

// MemoryObjectSize is the size in bytes of a memory object argument, as the backends see it.
const MemoryObjectSize = 8

// ParamKind is the type of a kernel parameter.
type ParamKind int

const (
	ParamInt ParamKind = iota
	ParamUint
	ParamFloat
	ParamInt2

	// ParamBuffer is a read-write buffer.
	ParamBuffer

	// ParamConstant is a read-only buffer.
	ParamConstant

	// ParamReadPlane is a plane the kernel reads from.
	ParamReadPlane

	// ParamWritePlane is a plane the kernel writes to.
	ParamWritePlane
)

var paramKindNames = []string{"int", "uint", "float", "int2", "buffer", "constant", "read_plane", "write_plane"}

// String implements fmt.Stringer.
func (k ParamKind) String() string {
	if k < 0 || int(k) >= len(paramKindNames) {
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
	return paramKindNames[k]
}

// Size in bytes of an argument of this kind.
func (k ParamKind) Size() int {
	switch k {
	case ParamInt, ParamUint, ParamFloat:
		return 4
	case ParamInt2:
		return 8
	default:
		return MemoryObjectSize
	}
}

// IsMemory returns whether the parameter takes a memory object.
func (k ParamKind) IsMemory() bool {
	return k >= ParamBuffer
}

// MemoryKind of the memory object the parameter takes. Only valid if IsMemory.
func (k ParamKind) MemoryKind() MemoryKind {
	if k == ParamReadPlane || k == ParamWritePlane {
		return KindPlane
	}
	return KindBuffer
}

// Param declares one kernel parameter.
type Param struct {
	Name string
	Kind ParamKind
}

// KernelFunc is the Go implementation of a kernel, used by the software driver:
// it is called once per work group, possibly concurrently for different groups.
//
// It can panic (e.g. with exceptions.Panicf) on invalid arguments: the driver reports it as a failed launch.
type KernelFunc func(g *WorkGroup)

// KernelDef defines one entry point of a Program.
type KernelDef struct {
	Name   string
	Params []Param

	// LocalSize, if set, is the only local work size the kernel supports.
	LocalSize []int

	// Run is the software implementation.
	Run KernelFunc
}

// Program is a set of kernels: they are given both as OpenCL C source code (compiled by the opencl driver)
// and as Go functions (run by the software driver).
type Program struct {
	Name string

	// Source is the OpenCL C source.
	Source string

	// Requires lists the names of the defines that must be given when compiling the program.
	Requires []string

	Kernels []*KernelDef
}

// Kernel returns the definition of the named entry point, or nil if the program doesn't have it.
func (p *Program) Kernel(name string) *KernelDef {
	for _, def := range p.Kernels {
		if def.Name == name {
			return def
		}
	}
	return nil
}

// missingDefines returns the required defines not in defines.
func (p *Program) missingDefines(defines Defines) []string {
	var missing []string
	for _, name := range p.Requires {
		if _, found := defines[name]; !found {
			missing = append(missing, name)
		}
	}
	return missing
}

// Defines are the integer macros a Program is compiled with.
type Defines map[string]int

// BuildOptions returns the defines as compiler options ("-D NAME=value"), sorted by name.
func (d Defines) BuildOptions() string {
	keys := slices.Sorted(maps.Keys(d))
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("-D %s=%d", key, d[key]))
	}
	return strings.Join(parts, " ")
}
