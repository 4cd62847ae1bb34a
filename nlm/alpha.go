package nlm

import (
	"github.com/chewxy/math32"
	"github.com/x448/float16"
)

// AlphaEntry packs the similarity weight of a sample (top 24 bits, 0 to MaxWeight) and its pixel value
// (low 8 bits). Entries compare by weight first, so sorting them sorts samples by similarity.
type AlphaEntry uint32

// MaxWeight is the weight of a sample identical to the target.
const MaxWeight = 1<<24 - 1

const weightScale float32 = 1.0 / (1 << 24)

// NewAlphaEntry computes the entry of a sample at the given Gaussian-weighted distance from the target, with
// h the inverse of the filter strength.
func NewAlphaEntry(distance, h float32, pixel byte) AlphaEntry {
	w := uint32(math32.Floor(MaxWeight * math32.Exp(-distance*h)))
	return AlphaEntry(w<<8 | uint32(pixel))
}

// RawWeight returns the 24-bit weight.
func (a AlphaEntry) RawWeight() uint32 {
	return uint32(a) >> 8
}

// Weight returns the weight as a float in [0, 1).
func (a AlphaEntry) Weight() float32 {
	return float32(a.RawWeight()) * weightScale
}

// Pixel returns the 8-bit pixel value.
func (a AlphaEntry) Pixel() byte {
	return byte(a)
}

// Value returns the pixel value normalized to [0, 1].
func (a AlphaEntry) Value() float32 {
	return float32(a.Pixel()) / 255
}

// WeightsFloat16 returns the weights of the entries as half floats: a compact dump of an alpha set, to inspect
// or plot the similarity weights of a target pixel.
func WeightsFloat16(entries []uint32) []float16.Float16 {
	weights := make([]float16.Float16, len(entries))
	for ii, a := range entries {
		weights[ii] = float16.Fromfloat32(AlphaEntry(a).Weight())
	}
	return weights
}
