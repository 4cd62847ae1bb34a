package compute

import (
	"math"
)

// HostPlane is the storage of a plane in host memory, as used by the software driver: Height rows of Units
// storage units, each of PixelsPerUnit 8-bit pixels.
//
// Reads outside the storage return 0, writes outside it are dropped, like an image with border clamping.
type HostPlane struct {
	Width, Height int
	Units         int
	Pix           []byte
}

// NewHostPlane allocates a zeroed plane of width x height pixels.
func NewHostPlane(width, height int) *HostPlane {
	units, rows := PlaneDimensions(width, height)
	return &HostPlane{
		Width:  width,
		Height: rows,
		Units:  units,
		Pix:    make([]byte, units*PixelsPerUnit*rows),
	}
}

// Stride is the number of bytes per row.
func (p *HostPlane) Stride() int {
	return p.Units * PixelsPerUnit
}

// Byte returns the pixel at (x, y), or 0 outside the storage.
func (p *HostPlane) Byte(x, y int) byte {
	stride := p.Stride()
	if x < 0 || y < 0 || x >= stride || y >= p.Height {
		return 0
	}
	return p.Pix[y*stride+x]
}

// At returns the pixel at (x, y) normalized to [0, 1], or 0 outside the storage.
func (p *HostPlane) At(x, y int) float32 {
	return float32(p.Byte(x, y)) / 255
}

// Write4 writes the 4 pixels of the storage unit (unit, y), given as values normalized to [0, 1].
// Values are converted with saturation and rounding to the nearest even integer.
// Writes outside the storage are dropped.
func (p *HostPlane) Write4(unit, y int, values [PixelsPerUnit]float32) {
	if unit < 0 || y < 0 || unit >= p.Units || y >= p.Height {
		return
	}
	pos := y*p.Stride() + unit*PixelsPerUnit
	for ii, v := range values {
		p.Pix[pos+ii] = UNorm8(v)
	}
}

// UNorm8 converts a value normalized to [0, 1] to an 8-bit pixel, with saturation and rounding to the nearest
// even integer. NaN converts to 0.
func UNorm8(v float32) byte {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(math.RoundToEven(float64(v) * 255))
}
