package nlm

import (
	"flag"
	"fmt"
	"testing"
	"time"

	benchmarks "github.com/janpfeifer/go-benchmarks"
)

var flagLatency = flag.Duration("latency", 0, "If > 0, run the latency tests for this long per shape.")

var benchmarkSizes = [][2]int{
	{64, 64},
	{320, 240},
	{640, 480},
}

// BenchmarkSingleFrame filters a full plane with the single-frame kernels.
func BenchmarkSingleFrame(b *testing.B) {
	device := newTestDevice(b)
	runners := make([]*singleFrameRunner, len(benchmarkSizes))
	planes := make([][]byte, len(benchmarkSizes))
	for ii, size := range benchmarkSizes {
		runners[ii] = newSingleFrameRunner(b, device, size[0], size[1], 500, 1)
		planes[ii] = noisyPlane(size[0], size[1], 10, uint32(ii))
	}

	// Warmup for each size.
	for ii := range benchmarkSizes {
		runners[ii].run(b, planes[ii])
	}

	b.ResetTimer()
	for ii, size := range benchmarkSizes {
		b.Run(fmt.Sprintf("%dx%d", size[0], size[1]), func(b *testing.B) {
			for range b.N {
				runners[ii].run(b, planes[ii])
			}
		})
	}
}

// BenchmarkSortAlpha measures the phase 2 merge of one alpha set.
func BenchmarkSortAlpha(b *testing.B) {
	for _, sampleExpand := range []int{1, 2, 4} {
		entries := noisyEntries(AlphaSetSize(0, sampleExpand))
		lists := newAlphaLists(DefaultAlphaSize)
		b.Run(fmt.Sprintf("expand=%d", sampleExpand), func(b *testing.B) {
			for range b.N {
				lists.reset()
				lists.sort(entries)
				_ = lists.reduce()
			}
		})
	}
}

func noisyEntries(n int) []uint32 {
	pix := noisyPlane(n, 1, 10, 3)
	entries := make([]uint32, n)
	for ii, p := range pix {
		entries[ii] = uint32(NewAlphaEntry(float32(ii)/float32(n), 10, p))
	}
	return entries
}

// TestSortAlphaLatency reports the mean, median and tail latencies of the phase 2 merge of one alpha set per
// sample expansion. It only runs with -latency set.
func TestSortAlphaLatency(t *testing.T) {
	if *flagLatency <= 0 {
		t.Skip("latency tests disabled, set -latency to run them")
	}
	const repeats = 100
	var fns []benchmarks.NamedFunction
	for _, sampleExpand := range []int{1, 2, 4} {
		entries := noisyEntries(AlphaSetSize(0, sampleExpand))
		lists := newAlphaLists(DefaultAlphaSize)
		fns = append(fns, benchmarks.NamedFunction{
			Name: fmt.Sprintf("SortAlpha/expand=%d", sampleExpand),
			Func: func() {
				for range repeats {
					lists.reset()
					lists.sort(entries)
					_ = lists.reduce()
				}
			},
		})
	}
	benchmarks.New(fns...).
		WithInnerRepeats(repeats).
		WithDuration(*flagLatency).
		Done()
}

// TestSingleFrameLatency reports the latencies of filtering a full plane with the single-frame kernels.
func TestSingleFrameLatency(t *testing.T) {
	if *flagLatency <= 0 {
		t.Skip("latency tests disabled, set -latency to run them")
	}
	device := newTestDevice(t)
	var fns []benchmarks.NamedFunction
	for ii, size := range benchmarkSizes {
		runner := newSingleFrameRunner(t, device, size[0], size[1], 500, 1)
		plane := noisyPlane(size[0], size[1], 10, uint32(ii))
		fns = append(fns, benchmarks.NamedFunction{
			Name: fmt.Sprintf("SingleFrame/%dx%d", size[0], size[1]),
			Func: func() { runner.run(t, plane) },
		})
	}
	benchmarks.New(fns...).
		WithWarmUps(2).
		WithDuration(*flagLatency).
		WithPrettyPrintFn(func(d time.Duration) string { return benchmarks.PrettyPrint(d.Round(time.Microsecond)) }).
		Done()
}
