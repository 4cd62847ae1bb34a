// Package nlmeans de-noises planar 8-bit video frames with the non-local means algorithm, on a compute
// device (see package compute).
//
// Each output pixel is a weighted blend of the pixels of a neighbourhood (the sample set), weighed by how
// similar the 7x7 window around each sample is to the window around the pixel. With a temporal radius r, the
// samples are also taken from the r frames before and after.
//
// The Denoiser drives the three planes (Y, U and V) of the frames of a FrameSource:
//
//	d, err := nlmeans.NewDenoiser(source, nlmeans.DefaultOptions())
//	if err != nil { ... }
//	defer d.Close()
//	dst := nlmeans.NewFrameLike(first)
//	for n := range source.NumFrames() {
//		if err := d.Denoise(n, dst); err != nil { ... }
//	}
//
// The lower level building blocks are in the packages filter (orchestration of the kernels over one plane) and
// nlm (the kernels themselves).
package nlmeans

import (
	"fmt"

	"github.com/pkg/errors"
)

// PlaneID identifies one of the planes of a Frame.
type PlaneID int

const (
	PlaneY PlaneID = iota
	PlaneU
	PlaneV

	// NumPlanes is the number of planes of a Frame.
	NumPlanes = 3
)

// String implements fmt.Stringer.
func (id PlaneID) String() string {
	switch id {
	case PlaneY:
		return "Y"
	case PlaneU:
		return "U"
	case PlaneV:
		return "V"
	default:
		return fmt.Sprintf("PlaneID(%d)", int(id))
	}
}

// IsChroma returns whether the plane is one of the chroma planes.
func (id PlaneID) IsChroma() bool {
	return id == PlaneU || id == PlaneV
}

// Plane of 8-bit pixels on the host, with rows Pitch bytes apart.
type Plane struct {
	Width, Height, Pitch int
	Pix                  []byte
}

// NewPlane allocates a zeroed plane with no padding between rows.
func NewPlane(width, height int) *Plane {
	return &Plane{Width: width, Height: height, Pitch: width, Pix: make([]byte, width*height)}
}

// At returns the pixel at (x, y).
func (p *Plane) At(x, y int) byte {
	return p.Pix[y*p.Pitch+x]
}

// Set the pixel at (x, y).
func (p *Plane) Set(x, y int, v byte) {
	p.Pix[y*p.Pitch+x] = v
}

// Fill sets all the pixels to v.
func (p *Plane) Fill(v byte) {
	for y := range p.Height {
		row := p.Pix[y*p.Pitch : y*p.Pitch+p.Width]
		for ii := range row {
			row[ii] = v
		}
	}
}

// Clone returns a copy of the plane, without padding.
func (p *Plane) Clone() *Plane {
	c := NewPlane(p.Width, p.Height)
	c.CopyFrom(p)
	return c
}

// CopyFrom copies the pixels of src, which must have the same size.
func (p *Plane) CopyFrom(src *Plane) {
	for y := range p.Height {
		copy(p.Pix[y*p.Pitch:y*p.Pitch+p.Width], src.Pix[y*src.Pitch:y*src.Pitch+src.Width])
	}
}

// SameSize returns whether both planes have the same width and height.
func (p *Plane) SameSize(other *Plane) bool {
	return p.Width == other.Width && p.Height == other.Height
}

func (p *Plane) validate(name string) error {
	switch {
	case p == nil:
		return errors.Errorf("plane %s is nil", name)
	case p.Width <= 0 || p.Height <= 0:
		return errors.Errorf("plane %s has invalid size %dx%d", name, p.Width, p.Height)
	case p.Pitch < p.Width:
		return errors.Errorf("plane %s has pitch %d smaller than its width %d", name, p.Pitch, p.Width)
	case len(p.Pix) < p.Pitch*(p.Height-1)+p.Width:
		return errors.Errorf("plane %s has %d bytes, %dx%d with pitch %d requires %d", name, len(p.Pix),
			p.Width, p.Height, p.Pitch, p.Pitch*(p.Height-1)+p.Width)
	}
	return nil
}

// Frame is a planar YUV frame. The chroma planes can be subsampled, but U and V must have the same size.
type Frame struct {
	Planes [NumPlanes]*Plane
}

// NewFrame allocates a frame with luma planes of width x height and chroma planes of
// chromaWidth x chromaHeight.
func NewFrame(width, height, chromaWidth, chromaHeight int) *Frame {
	return &Frame{Planes: [NumPlanes]*Plane{
		NewPlane(width, height),
		NewPlane(chromaWidth, chromaHeight),
		NewPlane(chromaWidth, chromaHeight),
	}}
}

// NewFrameLike allocates a frame with the plane sizes of f.
func NewFrameLike(f *Frame) *Frame {
	return NewFrame(f.Y().Width, f.Y().Height, f.U().Width, f.U().Height)
}

// Plane returns the plane id.
func (f *Frame) Plane(id PlaneID) *Plane { return f.Planes[id] }

// Y returns the luma plane.
func (f *Frame) Y() *Plane { return f.Planes[PlaneY] }

// U returns the first chroma plane.
func (f *Frame) U() *Plane { return f.Planes[PlaneU] }

// V returns the second chroma plane.
func (f *Frame) V() *Plane { return f.Planes[PlaneV] }

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	c := &Frame{}
	for id, p := range f.Planes {
		c.Planes[id] = p.Clone()
	}
	return c
}

// Validate checks that all planes are set and consistent.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.New("nil frame")
	}
	for id, p := range f.Planes {
		if err := p.validate(PlaneID(id).String()); err != nil {
			return err
		}
	}
	if !f.U().SameSize(f.V()) {
		return errors.Errorf("chroma planes have different sizes: U is %dx%d, V is %dx%d",
			f.U().Width, f.U().Height, f.V().Width, f.V().Height)
	}
	return nil
}

// SameLayout returns whether both frames have planes of the same sizes.
func (f *Frame) SameLayout(other *Frame) bool {
	for id, p := range f.Planes {
		if !p.SameSize(other.Planes[id]) {
			return false
		}
	}
	return true
}

// FrameSource provides the frames of a clip, numbered from 0 to NumFrames()-1.
// All frames must have the same layout and pitches.
type FrameSource interface {
	NumFrames() int
	Frame(n int) (*Frame, error)
}

// Frames is a FrameSource over frames held in memory.
type Frames []*Frame

// NumFrames implements FrameSource.
func (fs Frames) NumFrames() int { return len(fs) }

// Frame implements FrameSource.
func (fs Frames) Frame(n int) (*Frame, error) {
	if n < 0 || n >= len(fs) {
		return nil, errors.Errorf("frame %d out of range [0, %d)", n, len(fs))
	}
	return fs[n], nil
}
