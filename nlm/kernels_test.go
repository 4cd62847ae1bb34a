package nlm

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat"

	"github.com/gomlx/nlmeans/compute"
)

const testRegionHeight = 32

// newTestDevice creates a device for the driver selected by -driver, with the NLM program compiled.
func newTestDevice(t testing.TB) *compute.Device {
	ctx := must.M1(compute.NewContext(*flagDriver, nil))
	t.Cleanup(func() { require.NoError(t, ctx.Destroy()) })
	must.M(ctx.Compile(Program(), Defines(DefaultAlphaSize), EntryPoints...))
	return must.M1(ctx.Device(0))
}

// singleFrameRunner filters planes with the kernels directly, one region of width x 32 pixels at a time.
type singleFrameRunner struct {
	device                     *compute.Device
	width, height              int
	src, dst, alpha, gaussian  compute.Handle
	initialise, filter, sorter *compute.Kernel
}

func newSingleFrameRunner(t testing.TB, device *compute.Device, width, height int, h float32, sampleExpand int) *singleFrameRunner {
	buffers := device.Buffers()
	r := &singleFrameRunner{device: device, width: width, height: height}
	r.src = must.M1(buffers.AllocPlane(width, height))
	r.dst = must.M1(buffers.AllocPlane(width, height))
	alphaSetSize := AlphaSetSize(0, sampleExpand)
	r.alpha = must.M1(buffers.AllocBuffer(AlphaBufferSize(0, width, testRegionHeight, sampleExpand)))
	r.gaussian = must.M1(buffers.AllocBuffer(4 * GaussianSize))
	must.M(buffers.CopyToBuffer(r.gaussian, GaussianBytes(GaussianWeights(1))))

	r.initialise = must.M1(device.NewKernelInstance(KernelInitialise))
	for _, arg := range []any{r.alpha, uint32(0)} {
		must.M(r.initialise.SetArg(arg))
	}
	must.M(r.initialise.SetWorkDim(1))
	r.initialise.SetLocalWorkSize(InitialiseLocalSize...)
	r.initialise.SetScalarGlobalSize(width * testRegionHeight * alphaSetSize)
	r.initialise.SetScalarItemSize(1)

	r.filter = must.M1(device.NewKernelInstance(KernelSingleFrame))
	for _, arg := range []any{r.src, int32(width), int32(height), compute.Int2{}, h, int32(sampleExpand),
		r.gaussian, int32(0), int32(alphaSetSize), r.alpha} {
		must.M(r.filter.SetArg(arg))
	}
	r.sorter = must.M1(device.NewKernelInstance(KernelFinalise))
	for _, arg := range []any{r.src, int32(width), compute.Int2{}, int32(0), int32(ReservedAlphaSize),
		int32(alphaSetSize), r.alpha, r.dst} {
		must.M(r.sorter.SetArg(arg))
	}
	for _, k := range []*compute.Kernel{r.filter, r.sorter} {
		must.M(k.SetWorkDim(2))
		k.SetLocalWorkSize(FilterLocalSize...)
		k.SetScalarGlobalSize(width, testRegionHeight*Cooperators)
		k.SetScalarItemSize(1, 1)
	}
	require.True(t, r.filter.ArgumentsValid())
	require.True(t, r.sorter.ArgumentsValid())
	return r
}

func (r *singleFrameRunner) run(t testing.TB, pix []byte) []byte {
	buffers := r.device.Buffers()
	must.M(buffers.CopyToPlane(r.src, pix, r.width, r.height, r.width))
	var previous *compute.Event
	for y := 0; y < r.height; y += testRegionHeight {
		topLeft := compute.Int2{Y: int32(y)}
		must.M(r.filter.SetNumberedArg(3, topLeft))
		must.M(r.sorter.SetNumberedArg(2, topLeft))
		zeroed := must.M1(r.initialise.ExecuteAsync(previous))
		weighed := must.M1(r.filter.ExecuteAsync(zeroed))
		previous = must.M1(r.sorter.ExecuteAsync(weighed))
	}
	require.NoError(t, previous.Await())
	out := make([]byte, r.width*r.height)
	must.M(buffers.CopyFromPlane(r.dst, out, r.width, r.height, r.width))
	return out
}

func noisyPlane(width, height int, level float64, seed uint32) []byte {
	var rng fastrand.RNG
	rng.Seed(seed)
	pix := make([]byte, width*height)
	for ii := range pix {
		// Sum of 4 uniforms: roughly normal, with standard deviation level.
		var noise float64
		for range 4 {
			noise += float64(rng.Uint32n(1<<16))/(1<<16) - 0.5
		}
		v := 128 + noise*level*1.7320508
		pix[ii] = byte(min(max(v+0.5, 0), 255))
	}
	return pix
}

func stdDev(pix []byte) float64 {
	values := make([]float64, len(pix))
	for ii, p := range pix {
		values[ii] = float64(p)
	}
	_, std := stat.MeanStdDev(values, nil)
	return std
}

func TestKernelsConstantPlane(t *testing.T) {
	device := newTestDevice(t)
	const width, height = 44, 40
	r := newSingleFrameRunner(t, device, width, height, 1000, 1)
	pix := make([]byte, width*height)
	for ii := range pix {
		pix[ii] = 100
	}
	out := r.run(t, pix)
	require.Equal(t, pix, out)
}

func TestKernelsReduceNoise(t *testing.T) {
	device := newTestDevice(t)
	const width, height = 64, 64
	for _, sampleExpand := range []int{1, 2} {
		r := newSingleFrameRunner(t, device, width, height, 500, sampleExpand)
		pix := noisyPlane(width, height, 10, 17)
		out := r.run(t, pix)
		before, after := stdDev(pix), stdDev(out)
		t.Logf("sample expand %d: standard deviation %.2f -> %.2f", sampleExpand, before, after)
		require.Less(t, after, before*0.8)
	}
}

func TestKernelsInvalidAlphaSize(t *testing.T) {
	ctx := must.M1(compute.NewContext(*flagDriver, nil))
	defer func() { require.NoError(t, ctx.Destroy()) }()
	// ALPHASIZE is required.
	err := ctx.Compile(Program(), nil, EntryPoints...)
	require.Error(t, err)
	require.Equal(t, compute.CodeKernelCompilationFailed, compute.CodeOf(err))
}
