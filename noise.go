package nlmeans

import (
	"math"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat"
)

// AddNoise adds approximately Gaussian noise of standard deviation level to the pixels of p, saturating at 0
// and 255. The noise is deterministic for a given seed.
func AddNoise(p *Plane, level float64, seed uint32) {
	var rng fastrand.RNG
	rng.Seed(seed)
	// Irwin-Hall: the sum of 12 uniforms in [0, 1) has variance 1.
	const numUniforms = 12
	for y := range p.Height {
		row := p.Pix[y*p.Pitch : y*p.Pitch+p.Width]
		for ii, v := range row {
			var noise float64
			for range numUniforms {
				noise += float64(rng.Uint32()) / (1 << 32)
			}
			noise -= numUniforms / 2
			row[ii] = saturate(float64(v) + noise*level)
		}
	}
}

// AddFrameNoise adds noise to all planes of f, with level for luma and chromaLevel for chroma.
func AddFrameNoise(f *Frame, level, chromaLevel float64, seed uint32) {
	for id, p := range f.Planes {
		l := level
		if PlaneID(id).IsChroma() {
			l = chromaLevel
		}
		if l > 0 {
			AddNoise(p, l, seed+uint32(id)*7919)
		}
	}
}

func saturate(v float64) byte {
	return byte(min(max(math.Round(v), 0), 255))
}

// PlaneStats summarizes the values of a plane, or the difference between two planes.
type PlaneStats struct {
	Mean, StdDev float64
}

// Stats returns the mean and standard deviation of the pixels of p.
func Stats(p *Plane) PlaneStats {
	values := make([]float64, 0, p.Width*p.Height)
	for y := range p.Height {
		for x := range p.Width {
			values = append(values, float64(p.At(x, y)))
		}
	}
	var s PlaneStats
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	return s
}

// Difference returns the mean and standard deviation of b-a, pixel by pixel. Both planes must have the same
// size.
func Difference(a, b *Plane) PlaneStats {
	values := make([]float64, 0, a.Width*a.Height)
	for y := range a.Height {
		for x := range a.Width {
			values = append(values, float64(b.At(x, y))-float64(a.At(x, y)))
		}
	}
	var s PlaneStats
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	return s
}

// RMSE returns the root mean square error between two planes of the same size.
func RMSE(a, b *Plane) float64 {
	var sum float64
	for y := range a.Height {
		for x := range a.Width {
			d := float64(b.At(x, y)) - float64(a.At(x, y))
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(a.Width*a.Height))
}
