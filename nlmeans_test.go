package nlmeans_test

import (
	"flag"
	"fmt"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/gomlx/nlmeans"
	"github.com/gomlx/nlmeans/compute"
	"github.com/gomlx/nlmeans/filter"
)

var (
	flagDriver = flag.String("driver", compute.SoftwareDriverName, "compute driver used by the tests")
)

func init() {
	klog.InitFlags(nil)
}

// cleanFrame returns a frame of flat blocks, with 4:2:0 chroma.
func cleanFrame(width, height int) *nlmeans.Frame {
	f := nlmeans.NewFrame(width, height, (width+1)/2, (height+1)/2)
	for y := range height {
		for x := range width {
			f.Y().Set(x, y, byte(60+40*((x/16+y/16)%3)))
		}
	}
	for y := range f.U().Height {
		for x := range f.U().Width {
			f.U().Set(x, y, byte(100+20*((x/8)%2)))
			f.V().Set(x, y, byte(150-20*((y/8)%2)))
		}
	}
	return f
}

// noisyClip returns numFrames noisy versions of the same clean frame.
func noisyClip(clean *nlmeans.Frame, numFrames int) nlmeans.Frames {
	clip := make(nlmeans.Frames, numFrames)
	for n := range clip {
		clip[n] = clean.Clone()
		nlmeans.AddFrameNoise(clip[n], 8, 4, uint32(101+n))
	}
	return clip
}

func testOptions() nlmeans.Options {
	options := nlmeans.DefaultOptions()
	options.Driver = *flagDriver
	options.HY = 40
	options.HUV = 20
	return options
}

// denoiseClip filters all the frames of clip and checks the error against clean drops for every plane.
func denoiseClip(t *testing.T, clean *nlmeans.Frame, clip nlmeans.Frames, options nlmeans.Options) {
	d := must.M1(nlmeans.NewDenoiser(clip, options))
	defer func() { require.NoError(t, d.Close()) }()
	dst := nlmeans.NewFrameLike(clean)
	for n := range clip.NumFrames() {
		require.NoErrorf(t, d.Denoise(n, dst), "frame %d", n)
		for id := range nlmeans.PlaneID(nlmeans.NumPlanes) {
			before := nlmeans.RMSE(clean.Plane(id), clip[n].Plane(id))
			after := nlmeans.RMSE(clean.Plane(id), dst.Plane(id))
			fmt.Printf("\tframe %d, plane %s: rmse %.2f -> %.2f\n", n, id, before, after)
			assert.Lessf(t, after, before, "frame %d, plane %s", n, id)
		}
	}
}

func TestEndToEndSingleFrame(t *testing.T) {
	clean := cleanFrame(64, 48)
	denoiseClip(t, clean, noisyClip(clean, 2), testOptions())
}

func TestEndToEndMultiFrame(t *testing.T) {
	clean := cleanFrame(48, 32)
	options := testOptions()
	options.TY = 1
	options.TUV = 2
	// The first and last frames use clamped frame numbers for the samples outside the clip.
	denoiseClip(t, clean, noisyClip(clean, 4), options)
}

func TestPassThrough(t *testing.T) {
	clean := cleanFrame(32, 16)
	clip := noisyClip(clean, 1)
	options := testOptions()
	options.HY = 0
	options.HUV = 0
	d := must.M1(nlmeans.NewDenoiser(clip, options))
	dst := nlmeans.NewFrameLike(clean)
	require.NoError(t, d.Denoise(0, dst))
	assert.Nil(t, d.Device(), "no device should be created when all planes pass through")
	for id := range nlmeans.PlaneID(nlmeans.NumPlanes) {
		assert.Equal(t, clip[0].Plane(id).Pix, dst.Plane(id).Pix)
	}
	require.NoError(t, d.Close())
}

func TestChromaPassThrough(t *testing.T) {
	clean := cleanFrame(32, 32)
	clip := noisyClip(clean, 1)
	options := testOptions()
	options.HUV = -3 // Clamped to 0.
	d := must.M1(nlmeans.NewDenoiser(clip, options))
	defer func() { require.NoError(t, d.Close()) }()
	assert.Zero(t, d.Options().HUV)
	dst := nlmeans.NewFrameLike(clean)
	require.NoError(t, d.Denoise(0, dst))
	require.NotNil(t, d.Device())
	assert.Equal(t, clip[0].U().Pix, dst.U().Pix)
	assert.Equal(t, clip[0].V().Pix, dst.V().Pix)
	assert.NotEqual(t, clip[0].Y().Pix, dst.Y().Pix)
}

func TestDenoiseErrors(t *testing.T) {
	_, err := nlmeans.NewDenoiser(nlmeans.Frames{}, testOptions())
	require.Error(t, err)

	clean := cleanFrame(32, 16)
	clip := noisyClip(clean, 2)
	d := must.M1(nlmeans.NewDenoiser(clip, testOptions()))
	defer func() { require.NoError(t, d.Close()) }()
	dst := nlmeans.NewFrameLike(clean)

	err = d.Denoise(2, dst)
	assert.Equal(t, compute.CodeInvalidParameter, compute.CodeOf(err))
	err = d.Denoise(0, nlmeans.NewFrame(16, 16, 8, 8))
	assert.Equal(t, compute.CodeInvalidParameter, compute.CodeOf(err))

	require.NoError(t, d.Denoise(0, dst))
	padded := nlmeans.NewFrameLike(clean)
	padded.Y().Pitch = 40
	padded.Y().Pix = make([]byte, 40*16)
	err = d.Denoise(1, padded)
	assert.Equal(t, compute.CodeInvalidParameter, compute.CodeOf(err), "pitch changed after initialization")
}

func TestUnknownDriver(t *testing.T) {
	clean := cleanFrame(16, 8)
	options := testOptions()
	options.Driver = "no-such-driver"
	d := must.M1(nlmeans.NewDenoiser(noisyClip(clean, 1), options))
	err := d.Denoise(0, nlmeans.NewFrameLike(clean))
	require.Error(t, err)
	assert.Equal(t, compute.CodeDeviceUnavailable, compute.CodeOf(err))
	// The failure is kept.
	assert.Error(t, d.Denoise(0, nlmeans.NewFrameLike(clean)))
	require.NoError(t, d.Close())
}

// TestFilterKinds checks the kind of filter chosen per plane from the temporal radius.
func TestFilterKinds(t *testing.T) {
	for _, tY := range []int{0, 1} {
		options := testOptions()
		options.TY = tY
		kind := filter.KindSingleFrame
		if tY > 0 {
			kind = filter.KindMultiFrame
		}
		t.Run(kind.String(), func(t *testing.T) {
			clean := cleanFrame(32, 16)
			clip := noisyClip(clean, 3)
			d := must.M1(nlmeans.NewDenoiser(clip, options))
			defer func() { require.NoError(t, d.Close()) }()
			assert.Nil(t, d.Filter(nlmeans.PlaneY))
			dst := nlmeans.NewFrameLike(clean)
			for n := range 3 {
				require.NoError(t, d.Denoise(n, dst))
			}
			assert.Equal(t, kind, d.Filter(nlmeans.PlaneY).Kind())
			assert.Equal(t, filter.KindSingleFrame, d.Filter(nlmeans.PlaneU).Kind())
		})
	}
}
