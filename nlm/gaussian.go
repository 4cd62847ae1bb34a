package nlm

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
)

// GaussianWeights returns the weights of the 7x7 comparison window, in row-major order: a 2D Gaussian with
// the given sigma centered on the window, normalized to sum 1.
func GaussianWeights(sigma float32) []float32 {
	weights := make([]float32, GaussianSize)
	twoSigma2 := 2 * sigma * sigma
	var sum float32
	for y := -WindowRadius; y <= WindowRadius; y++ {
		for x := -WindowRadius; x <= WindowRadius; x++ {
			w := math32.Exp(-float32(x*x+y*y)/twoSigma2) / (math32.Pi * twoSigma2)
			weights[(y+WindowRadius)*WindowSide+x+WindowRadius] = w
			sum += w
		}
	}
	for ii := range weights {
		weights[ii] /= sum
	}
	return weights
}

// GaussianBytes returns the weights encoded as float32 in the host byte order, ready to be copied to a device
// buffer.
func GaussianBytes(weights []float32) []byte {
	data := make([]byte, 4*len(weights))
	for ii, w := range weights {
		binary.NativeEndian.PutUint32(data[4*ii:], math.Float32bits(w))
	}
	return data
}
