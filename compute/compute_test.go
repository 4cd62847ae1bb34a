package compute

// Common initialization and testing tools for all test files.

import (
	"flag"
	"fmt"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var flagDriver = flag.String("driver", SoftwareDriverName, "compute driver used by the tests")

func init() {
	klog.InitFlags(nil)
}

// testProgram has small kernels exercising each parameter kind.
var testProgram = &Program{
	Name:     "test",
	Requires: []string{"SCALE"},
	Source: `
__kernel void Fill(__global uint *A, uint x) { A[get_global_id(0)] = x; }

__kernel void AddInt2(__global int *out, int2 v, int i) {
	const int pos = get_global_id(0);
	out[pos] = v.x + v.y + i + pos;
}

__constant sampler_t plane = CLK_NORMALIZED_COORDS_FALSE | CLK_ADDRESS_CLAMP | CLK_FILTER_NEAREST;

__kernel void ScalePlane(__read_only image2d_t src, float factor, __write_only image2d_t dst) {
	const int2 pos = (int2)(get_global_id(0), get_global_id(1));
	write_imagef(dst, pos, read_imagef(src, plane, pos) * factor * SCALE);
}
`,
	Kernels: []*KernelDef{
		{
			Name:   "Fill",
			Params: []Param{{"A", ParamBuffer}, {"x", ParamUint}},
			Run: func(g *WorkGroup) {
				a, x := g.Uint32s(0), g.Uint(1)
				base := g.ID[0] * g.Size[0]
				for ii := range g.Size[0] {
					a[base+ii] = x
				}
			},
		},
		{
			Name:   "AddInt2",
			Params: []Param{{"out", ParamBuffer}, {"v", ParamInt2}, {"i", ParamInt}},
			Run: func(g *WorkGroup) {
				out, v, i := g.Uint32s(0), g.Int2(1), g.Int(2)
				base := g.ID[0] * g.Size[0]
				for ii := range g.Size[0] {
					pos := base + ii
					out[pos] = uint32(v.X + v.Y + i + int32(pos))
				}
			},
		},
		{
			Name:      "ScalePlane",
			Params:    []Param{{"src", ParamReadPlane}, {"factor", ParamFloat}, {"dst", ParamWritePlane}},
			LocalSize: []int{1, 1},
			Run: func(g *WorkGroup) {
				src, factor, dst := g.Plane(0), g.Float(1), g.Plane(2)
				scale := float32(g.Define("SCALE"))
				x, y := g.ID[0], g.ID[1]
				var values [PixelsPerUnit]float32
				for ii := range values {
					values[ii] = src.At(x*PixelsPerUnit+ii, y) * factor * scale
				}
				dst.Write4(x, y, values)
			},
		},
	},
}

var testEntryPoints = []string{"Fill", "AddInt2", "ScalePlane"}

// newTestContext creates a context for the driver selected by -driver, with the test program compiled.
func newTestContext(t *testing.T, options Options) *Context {
	ctx, err := NewContext(*flagDriver, options)
	require.NoErrorf(t, err, "Failed to create context for driver %q", *flagDriver)
	fmt.Printf("%s\n", ctx)
	must.M(ctx.Compile(testProgram, Defines{"SCALE": 1}, testEntryPoints...))
	t.Cleanup(func() { require.NoError(t, ctx.Destroy()) })
	return ctx
}

// newTestDevice returns the first device of a new test context.
func newTestDevice(t *testing.T) *Device {
	return must.M1(newTestContext(t, nil).Device(0))
}
