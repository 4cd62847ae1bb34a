package nlm

import (
	_ "embed"

	"github.com/gomlx/nlmeans/compute"
)

// Names of the kernel entry points.
const (
	KernelInitialise  = "Initialise"
	KernelSingleFrame = "NLMSingleFrame"
	KernelMultiFrame  = "NLMMultiFrameFourPixel"
	KernelFinalise    = "Finalise"
)

// EntryPoints lists all the kernels of the Program, to be compiled with Device.Compile.
var EntryPoints = []string{KernelInitialise, KernelSingleFrame, KernelMultiFrame, KernelFinalise}

//go:embed nlm.cl
var source string

var program = &compute.Program{
	Name:     "nlm",
	Source:   source,
	Requires: []string{AlphaSizeDefine},
	Kernels: []*compute.KernelDef{
		{
			Name: KernelInitialise,
			Params: []compute.Param{
				{Name: "A", Kind: compute.ParamBuffer},
				{Name: "x", Kind: compute.ParamUint},
			},
			Run: initialise,
		},
		{
			Name: KernelSingleFrame,
			Params: []compute.Param{
				{Name: "input_plane", Kind: compute.ParamReadPlane},
				{Name: "width", Kind: compute.ParamInt},
				{Name: "height", Kind: compute.ParamInt},
				{Name: "top_left", Kind: compute.ParamInt2},
				{Name: "h", Kind: compute.ParamFloat},
				{Name: "sample_expand", Kind: compute.ParamInt},
				{Name: "gaussian", Kind: compute.ParamConstant},
				{Name: "linear", Kind: compute.ParamInt},
				{Name: "alpha_set_size", Kind: compute.ParamInt},
				{Name: "region_alpha", Kind: compute.ParamBuffer},
			},
			LocalSize: FilterLocalSize,
			Run:       nlmSingleFrame,
		},
		{
			Name: KernelMultiFrame,
			Params: []compute.Param{
				{Name: "target_plane", Kind: compute.ParamReadPlane},
				{Name: "sample_plane", Kind: compute.ParamReadPlane},
				{Name: "sample_equals_target", Kind: compute.ParamInt},
				{Name: "width", Kind: compute.ParamInt},
				{Name: "height", Kind: compute.ParamInt},
				{Name: "top_left", Kind: compute.ParamInt2},
				{Name: "h", Kind: compute.ParamFloat},
				{Name: "sample_expand", Kind: compute.ParamInt},
				{Name: "gaussian", Kind: compute.ParamConstant},
				{Name: "linear", Kind: compute.ParamInt},
				{Name: "alpha_set_size", Kind: compute.ParamInt},
				{Name: "alpha_so_far", Kind: compute.ParamInt},
				{Name: "region_alpha", Kind: compute.ParamBuffer},
			},
			LocalSize: FilterLocalSize,
			Run:       nlmMultiFrame,
		},
		{
			Name: KernelFinalise,
			Params: []compute.Param{
				{Name: "input_plane", Kind: compute.ParamReadPlane},
				{Name: "width", Kind: compute.ParamInt},
				{Name: "top_left", Kind: compute.ParamInt2},
				{Name: "linear", Kind: compute.ParamInt},
				{Name: "alpha_size", Kind: compute.ParamInt},
				{Name: "alpha_set_size", Kind: compute.ParamInt},
				{Name: "region_alpha", Kind: compute.ParamBuffer},
				{Name: "destination_plane", Kind: compute.ParamWritePlane},
			},
			LocalSize: FilterLocalSize,
			Run:       finalise,
		},
	},
}

// Program returns the NLM kernels, to be compiled with Defines.
func Program() *compute.Program {
	return program
}
