package nlm

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/nlmeans/compute"
)

// tile is the position of one work group of the filter kernels: cooperator x pixel, where each of the
// PixelsPerGroup pixels is one target pixel of an 8x2 tile of the region.
type tile struct {
	origin point // Region coordinates of the top-left pixel of the tile.
}

func newTile(g *compute.WorkGroup) tile {
	return tile{origin: point{g.ID[0] * TileWidth, g.ID[1] * TileHeight}}
}

// pixel returns the region coordinates of the pixel with the given local id.
func (t tile) pixel(pixelID int) point {
	return t.origin.add(point{pixelID & (TileWidth - 1), pixelID >> 3})
}

// initialise fills a buffer with a value: A[i] = x.
func initialise(g *compute.WorkGroup) {
	a, x := g.Uint32s(0), g.Uint(1)
	base := g.ID[0] * g.Size[0]
	end := min(base+g.Size[0], len(a))
	for ii := base; ii < end; ii++ {
		a[ii] = x
	}
}

// weighArgs are the arguments of the phase 1 kernels.
type weighArgs struct {
	target, sample *compute.HostPlane
	width, height  int
	topLeft        point
	h              float32
	sampleExpand   int
	gaussian       []float32
	alphaSetSize   int
	alphaSoFar     int
	skipTarget     bool
	alpha          []uint32
}

func (a *weighArgs) validate(name string) {
	if a.sampleExpand < 1 || a.sampleExpand > MaxSampleExpand {
		exceptions.Panicf("%s: sample_expand=%d out of range [1, %d]", name, a.sampleExpand, MaxSampleExpand)
	}
	if len(a.gaussian) < GaussianSize {
		exceptions.Panicf("%s: gaussian buffer has %d weights, wanted %d", name, len(a.gaussian), GaussianSize)
	}
	if a.width <= 0 || a.height <= 0 {
		exceptions.Panicf("%s: invalid plane size %dx%d", name, a.width, a.height)
	}
}

// nlmSingleFrame is the phase 1 kernel for spatial-only filtering: target and samples come from the same
// plane, and the target itself is skipped.
//
// Arguments: input_plane, width, height, top_left, h, sample_expand, gaussian, linear, alpha_set_size,
// region_alpha.
func nlmSingleFrame(g *compute.WorkGroup) {
	plane := g.Plane(0)
	args := &weighArgs{
		target:       plane,
		sample:       plane,
		width:        int(g.Int(1)),
		height:       int(g.Int(2)),
		topLeft:      int2Point(g.Int2(3)),
		h:            g.Float(4),
		sampleExpand: int(g.Int(5)),
		gaussian:     g.Float32s(6),
		alphaSetSize: int(g.Int(8)),
		skipTarget:   true,
		alpha:        g.Uint32s(9),
	}
	args.validate(KernelSingleFrame)
	weighTile(g, args)
}

// nlmMultiFrame is the phase 1 kernel for temporal filtering: it weighs the samples of one frame of the
// temporal window against the target plane, and writes its entries after the alpha_so_far entries each
// cooperator already wrote for the previous frames.
//
// Arguments: target_plane, sample_plane, sample_equals_target, width, height, top_left, h, sample_expand,
// gaussian, linear, alpha_set_size, alpha_so_far, region_alpha.
func nlmMultiFrame(g *compute.WorkGroup) {
	args := &weighArgs{
		target:       g.Plane(0),
		sample:       g.Plane(1),
		skipTarget:   g.Int(2) != 0,
		width:        int(g.Int(3)),
		height:       int(g.Int(4)),
		topLeft:      int2Point(g.Int2(5)),
		h:            g.Float(6),
		sampleExpand: int(g.Int(7)),
		gaussian:     g.Float32s(8),
		alphaSetSize: int(g.Int(10)),
		alphaSoFar:   int(g.Int(11)),
		alpha:        g.Uint32s(12),
	}
	args.validate(KernelMultiFrame)
	weighTile(g, args)
}

func int2Point(v compute.Int2) point {
	return point{int(v.X), int(v.Y)}
}

// weighTile writes the alpha entries of the samples of every pixel of the tile.
//
// The entries of a target pixel start at (y*width + x)*alpha_set_size, where (x, y) are its region
// coordinates, and are interleaved by cooperator: the i-th sample of cooperator c goes to offset
// (alpha_so_far + i)*8 + c.
func weighTile(g *compute.WorkGroup, args *weighArgs) {
	t := newTile(g)
	strideCount := StrideCount(args.sampleExpand)
	var targetWindow, sampleWindow [GaussianSize]float32
	for pixelID := range PixelsPerGroup {
		region := t.pixel(pixelID)
		target := args.topLeft.add(region)
		if target.x >= args.width || target.y >= args.height {
			continue
		}
		readWindow(args.target, target, &targetWindow)
		set := newSetGeometry(target, args.width, args.height, args.sampleExpand, args.skipTarget)
		regionBase := (region.y*args.width + region.x) * args.alphaSetSize
		for cooperator := range Cooperators {
			set.samples(cooperator, strideCount, func(stride int, sample point) {
				readWindow(args.sample, sample, &sampleWindow)
				distance := windowDistance(&targetWindow, &sampleWindow, args.gaussian)
				entry := NewAlphaEntry(distance, args.h, args.sample.Byte(sample.x, sample.y))
				args.alpha[regionBase+((args.alphaSoFar+stride)<<3)+cooperator] = uint32(entry)
			})
		}
	}
}

// readWindow reads the 7x7 window centered on p, with 0 for pixels outside the plane.
func readWindow(plane *compute.HostPlane, p point, window *[GaussianSize]float32) {
	pos := 0
	for y := p.y - WindowRadius; y <= p.y+WindowRadius; y++ {
		for x := p.x - WindowRadius; x <= p.x+WindowRadius; x++ {
			window[pos] = plane.At(x, y)
			pos++
		}
	}
}

// windowDistance is the Gaussian weighted sum of squared differences of two windows.
func windowDistance(target, sample *[GaussianSize]float32, gaussian []float32) float32 {
	var distance float32
	for ii := range GaussianSize {
		diff := target[ii] - sample[ii]
		distance += gaussian[ii] * diff * diff
	}
	return distance
}

// finalise is the phase 2 kernel: it keeps the best 8*ALPHASIZE entries of the alpha set of each pixel of the
// tile, blends them with the target pixel, and writes the filtered tile to the destination plane.
//
// Arguments: input_plane, width (of the region), top_left, linear, alpha_size (unused, ALPHASIZE is used
// instead), alpha_set_size, region_alpha, destination_plane.
func finalise(g *compute.WorkGroup) {
	input := g.Plane(0)
	width := int(g.Int(1))
	topLeft := int2Point(g.Int2(2))
	alphaSetSize := int(g.Int(5))
	alpha := g.Uint32s(6)
	destination := g.Plane(7)
	alphaSize := g.Define(AlphaSizeDefine)
	if alphaSize <= 0 {
		exceptions.Panicf("%s: %s=%d must be positive", KernelFinalise, AlphaSizeDefine, alphaSize)
	}
	if alphaSetSize%Cooperators != 0 {
		exceptions.Panicf("%s: alpha_set_size=%d is not a multiple of %d", KernelFinalise, alphaSetSize, Cooperators)
	}

	t := newTile(g)
	lists := newAlphaLists(alphaSize)
	var filtered [PixelsPerGroup]float32
	for pixelID := range PixelsPerGroup {
		region := t.pixel(pixelID)
		target := topLeft.add(region)
		targetPixel := input.At(target.x, target.y)
		if region.x >= width {
			filtered[pixelID] = targetPixel
			continue
		}
		regionBase := (region.y*width + region.x) * alphaSetSize
		lists.reset()
		lists.sort(alpha[regionBase : regionBase+alphaSetSize])
		sum := lists.reduce()
		filtered[pixelID] = sum.filter(targetPixel)
	}

	// The 4 masters write 4 contiguous pixels each.
	for master := 0; master < PixelsPerGroup; master += compute.PixelsPerUnit {
		target := topLeft.add(t.pixel(master))
		var values [compute.PixelsPerUnit]float32
		copy(values[:], filtered[master:master+compute.PixelsPerUnit])
		destination.Write4(target.x/compute.PixelsPerUnit, target.y, values)
	}
}

// alphaLists are the lists of best entries kept by the Cooperators work items of one pixel, each sorted in
// descending order. Together, they form one descending list: cooperator 0 holds the highest entries.
type alphaLists [Cooperators][]uint32

func newAlphaLists(alphaSize int) *alphaLists {
	lists := &alphaLists{}
	for c := range lists {
		lists[c] = make([]uint32, alphaSize)
	}
	return lists
}

func (l *alphaLists) reset() {
	for _, list := range l {
		clear(list)
	}
}

// sort merges the entries into the lists, Cooperators entries at a time.
func (l *alphaLists) sort(entries []uint32) {
	var weights [Cooperators]uint32
	for ii := 0; ii+Cooperators <= len(entries); ii += Cooperators {
		copy(weights[:], entries[ii:ii+Cooperators])
		l.update(&weights)
	}
}

// update inserts each of the weights in the lists, by cooperative insertion: every cooperator hands down to
// its inferior the smaller of its lowest entry and the new weight, then inserts the weight handed down by its
// superior (cooperator 0 inserts the new weight itself), shifting its lower entries down by one.
func (l *alphaLists) update(weights *[Cooperators]uint32) {
	alphaSize := len(l[0])
	var swap [Cooperators]uint32
	for _, w := range weights {
		for c := range Cooperators {
			swap[c] = min(l[c][alphaSize-1], w)
		}
		for c := range Cooperators {
			candidate := w
			if c > 0 {
				candidate = swap[c-1]
			}
			list := l[c]
			for ii := range list {
				next := min(candidate, list[ii])
				list[ii] = max(list[ii], candidate)
				candidate = next
			}
		}
	}
}

// alphaSum is the reduction of the alpha lists of one pixel.
type alphaSum struct {
	average, weight float32 // Sums of weight*pixel and of weight.
	minWeight       float32 // Smallest non-zero weight, 0 if there is none.
}

// reduce sums the entries of each cooperator, and then the sums of the cooperators.
func (l *alphaLists) reduce() alphaSum {
	var sum alphaSum
	minRaw := uint32(math.MaxUint32)
	for _, list := range l {
		var average, weight float32
		for _, a := range list {
			entry := AlphaEntry(a)
			w := entry.Weight()
			average += w * entry.Value()
			weight += w
			if raw := entry.RawWeight(); raw != 0 {
				minRaw = min(minRaw, raw)
			}
		}
		sum.average += average
		sum.weight += weight
	}
	if minRaw != math.MaxUint32 {
		sum.minWeight = float32(minRaw) * weightScale
	}
	return sum
}

// filter blends the weighted average with the target pixel, weighted by the smallest sample weight and at
// least MinTargetWeight.
func (s alphaSum) filter(targetPixel float32) float32 {
	targetWeight := math32.Max(s.minWeight, MinTargetWeight)
	return (s.average + targetWeight*targetPixel) / (s.weight + targetWeight)
}
