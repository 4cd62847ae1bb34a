// Package filter drives the NLM kernels over whole planes: it owns the device buffers of one plane type (luma
// or one of the chroma planes), uploads the frames, runs the two phases region by region, and downloads the
// filtered plane.
//
// There are two kinds of Filter: SingleFrame, for spatial-only filtering, and MultiFrame, for temporal
// filtering over a window of 2r+1 frames, which it keeps in a ring of device planes so that each frame is
// uploaded only once while the window slides.
package filter

import (
	"fmt"

	"github.com/gomlx/nlmeans/compute"
	"github.com/gomlx/nlmeans/nlm"
)

// Kind of Filter.
type Kind int

const (
	KindSingleFrame Kind = iota
	KindMultiFrame
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindSingleFrame:
		return "SingleFrame"
	case KindMultiFrame:
		return "MultiFrame"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Filter is the common interface of SingleFrame and MultiFrame.
type Filter interface {
	Kind() Kind

	// Execute filters the frame previously copied to the device.
	Execute() error

	// CopyFrom starts the download of the filtered plane to dst, whose rows are Config.DstPitch bytes apart.
	// dst must not be used before the returned Event completes.
	CopyFrom(dst []byte) (*compute.Event, error)

	// Destroy releases the device buffers of the filter.
	Destroy() error
}

// Config of a Filter.
type Config struct {
	// Width and Height of the plane in pixels.
	Width, Height int

	// SrcPitch and DstPitch are the distances in bytes between rows of the host buffers.
	SrcPitch, DstPitch int

	// H is the denoising strength: larger values blend dissimilar samples more. The kernels get 1/H.
	H float32

	// SampleExpand (1 to nlm.MaxSampleExpand) sets the sample set to a square of side 6*SampleExpand + 1.
	SampleExpand int

	// TemporalRadius is the number of frames before and after the target frame used as samples.
	// 0 means spatial-only filtering.
	TemporalRadius int

	// Linear, Correction and Balanced are legacy flags: Linear is passed to the kernels, which ignore it,
	// and the others are accepted for compatibility only.
	Linear, Correction, Balanced bool

	// Gaussian is the handle of the buffer with the nlm.GaussianSize weights of the comparison window.
	// It is shared by all the filters of a device, and not owned by them.
	Gaussian compute.Handle
}

// Validate returns an error with compute.CodeInvalidParameter if the configuration is not usable.
func (c *Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return compute.Errorf(compute.CodeInvalidParameter, "invalid plane size %dx%d", c.Width, c.Height)
	case c.SrcPitch < c.Width || c.DstPitch < c.Width:
		return compute.Errorf(compute.CodeInvalidParameter, "pitches (src=%d, dst=%d) must be at least the width %d",
			c.SrcPitch, c.DstPitch, c.Width)
	case !(c.H > 0):
		return compute.Errorf(compute.CodeInvalidParameter, "strength h=%g must be positive", c.H)
	case c.SampleExpand < 1 || c.SampleExpand > nlm.MaxSampleExpand:
		return compute.Errorf(compute.CodeInvalidParameter, "sample expand %d out of range [1, %d]",
			c.SampleExpand, nlm.MaxSampleExpand)
	case c.TemporalRadius < 0 || c.TemporalRadius > nlm.MaxTemporalRadius:
		return compute.Errorf(compute.CodeInvalidParameter, "temporal radius %d out of range [0, %d]",
			c.TemporalRadius, nlm.MaxTemporalRadius)
	case c.Gaussian == compute.InvalidHandle:
		return compute.Errorf(compute.CodeInvalidParameter, "gaussian weights buffer not set")
	}
	return nil
}

// New creates a SingleFrame filter if config.TemporalRadius is 0, or a MultiFrame filter otherwise.
// The device must have the nlm.Program compiled.
func New(device *compute.Device, config Config) (Filter, error) {
	if config.TemporalRadius == 0 {
		f, err := NewSingleFrame(device, config)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	f, err := NewMultiFrame(device, config)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
