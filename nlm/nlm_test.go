package nlm

import (
	"flag"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	"k8s.io/klog/v2"

	"github.com/gomlx/nlmeans/compute"
)

var flagDriver = flag.String("driver", compute.SoftwareDriverName, "compute driver used by the tests")

func init() {
	klog.InitFlags(nil)
}

func TestAlphaSetSize(t *testing.T) {
	assert.Equal(t, 48, AlphaSetSize(0, 1))
	assert.Equal(t, 240, AlphaSetSize(2, 1))
	assert.Equal(t, 168, AlphaSetSize(0, 2))
	assert.Equal(t, 7*48, AlphaSetSize(3, 1))
	for e := 1; e <= MaxSampleExpand; e++ {
		assert.Zerof(t, AlphaSetSize(0, e)%Cooperators, "sample expand %d", e)
		assert.Equalf(t, AlphaSetSize(0, e), StrideCount(e)*Cooperators, "sample expand %d", e)
	}
	assert.Equal(t, 640*32*48*4, AlphaBufferSize(0, 640, 32, 1))
	assert.Equal(t, compute.Defines{"ALPHASIZE": 16}, Defines(16))
}

func TestGaussianWeights(t *testing.T) {
	weights := GaussianWeights(1)
	require.Len(t, weights, GaussianSize)
	var sum float32
	for _, w := range weights {
		sum += w
	}
	require.InDelta(t, 1.0, sum, 1e-5)

	center := weights[GaussianSize/2]
	for ii, w := range weights {
		assert.LessOrEqual(t, w, center)
		// Symmetric around the center.
		assert.InDelta(t, w, weights[GaussianSize-1-ii], 1e-7)
	}
	// A wider Gaussian is flatter.
	wide := GaussianWeights(10)
	assert.Less(t, wide[GaussianSize/2], center)
	assert.Greater(t, wide[0], weights[0])

	data := GaussianBytes(weights)
	require.Len(t, data, 4*GaussianSize)
}

func TestAlphaEntry(t *testing.T) {
	a := NewAlphaEntry(0, 1000, 200)
	assert.Equal(t, uint32(MaxWeight), a.RawWeight())
	assert.Equal(t, byte(200), a.Pixel())
	assert.InDelta(t, 1.0, a.Weight(), 1e-6)
	assert.InDelta(t, 200.0/255, a.Value(), 1e-6)

	far := NewAlphaEntry(1, 1000, 17)
	assert.Zero(t, far.RawWeight())
	assert.Equal(t, byte(17), far.Pixel())

	// Entries order by weight first.
	assert.Greater(t, NewAlphaEntry(0.001, 1000, 0), NewAlphaEntry(0.002, 1000, 255))

	halves := WeightsFloat16([]uint32{uint32(a), uint32(far)})
	require.Len(t, halves, 2)
	assert.InDelta(t, 1.0, halves[0].Float32(), 1e-3)
	assert.Zero(t, halves[1].Float32())
}

// collectSamples returns the samples of all the cooperators of a target pixel.
func collectSamples(set setGeometry, sampleExpand int) []point {
	var samples []point
	for cooperator := range Cooperators {
		set.samples(cooperator, StrideCount(sampleExpand), func(_ int, sample point) {
			samples = append(samples, sample)
		})
	}
	return samples
}

func TestSetGeometry(t *testing.T) {
	for sampleExpand := 1; sampleExpand <= MaxSampleExpand; sampleExpand++ {
		side := SetSide(sampleExpand)
		target := point{50, 40}
		set := newSetGeometry(target, 128, 128, sampleExpand, true)
		require.Equal(t, target.add(point{Radius(sampleExpand), Radius(sampleExpand)}), set.max)

		// With the target skipped, the cooperators enumerate every other sample of the set exactly once.
		samples := collectSamples(set, sampleExpand)
		require.Len(t, samples, side*side-1)
		seen := make(map[point]bool)
		for _, s := range samples {
			require.False(t, seen[s], "sample %v enumerated twice", s)
			seen[s] = true
			require.NotEqual(t, target, s)
			require.True(t, s.x > set.max.x-side && s.x <= set.max.x && s.y > set.max.y-side && s.y <= set.max.y,
				"sample %v out of the set", s)
		}

		// Without skipping, the target is one of the samples.
		set.skipTarget = false
		require.Contains(t, collectSamples(set, sampleExpand), target)
	}

	// Near the borders the set is kept inside the plane.
	set := newSetGeometry(point{0, 0}, 64, 48, 1, true)
	assert.Equal(t, point{9, 9}, set.max)
	set = newSetGeometry(point{63, 47}, 64, 48, 1, true)
	assert.Equal(t, point{60, 44}, set.max)
	for _, s := range collectSamples(set, 1) {
		assert.True(t, s.x >= WindowRadius && s.x+WindowRadius < 64 && s.y >= WindowRadius && s.y+WindowRadius < 48,
			"sample %v window out of the plane", s)
	}
}

func randomEntries(rng *fastrand.RNG, n int) []uint32 {
	entries := make([]uint32, n)
	for ii := range entries {
		entries[ii] = rng.Uint32()
	}
	return entries
}

func TestAlphaListsSort(t *testing.T) {
	var rng fastrand.RNG
	rng.Seed(42)
	for _, alphaSize := range []int{1, 2, 16} {
		entries := randomEntries(&rng, 240)
		lists := newAlphaLists(alphaSize)
		lists.sort(entries)

		// The concatenated lists are the best entries in descending order.
		var kept []uint32
		for _, list := range lists {
			kept = append(kept, list...)
		}
		want := slices.Clone(entries)
		slices.Sort(want)
		slices.Reverse(want)
		require.Equalf(t, want[:Cooperators*alphaSize], kept, "alphaSize=%d", alphaSize)

		lists.reset()
		for _, list := range lists {
			require.Equal(t, make([]uint32, alphaSize), list)
		}
	}
}

func TestReduceEqualWeights(t *testing.T) {
	const rawWeight = 1 << 20
	var rng fastrand.RNG
	rng.Seed(7)
	entries := make([]uint32, AlphaSetSize(0, 1))
	var mean float64
	for ii := range entries {
		pixel := rng.Uint32n(256)
		entries[ii] = rawWeight<<8 | pixel
		mean += float64(pixel) / 255
	}
	mean /= float64(len(entries))

	lists := newAlphaLists(len(entries) / Cooperators)
	lists.sort(entries)
	sum := lists.reduce()
	require.InDelta(t, mean, sum.average/sum.weight, 1e-5)
	require.InDelta(t, float64(rawWeight)/(1<<24), sum.minWeight, 1e-9)

	// The target weight is the smallest sample weight, or MinTargetWeight if larger.
	target := float32(0.25)
	tw := max(sum.minWeight, MinTargetWeight)
	require.InDelta(t, (sum.average+tw*target)/(sum.weight+tw), sum.filter(target), 1e-6)

	// Without any similar sample, the target is kept.
	lists.reset()
	empty := lists.reduce()
	require.Zero(t, empty.minWeight)
	require.InDelta(t, target, empty.filter(target), 1e-7)
}
