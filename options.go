package nlmeans

import (
	"flag"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/gomlx/nlmeans/compute"
	"github.com/gomlx/nlmeans/nlm"
)

// Limits of the Options, enforced by Options.Normalize.
const (
	MinSigma     = 0.1
	MinAlphaSize = 8
	MaxAlphaSize = 128

	// StrengthScale divides the user facing strengths HY and HUV to obtain the strength used by the kernels.
	StrengthScale = 10000
)

// Options of a Denoiser.
type Options struct {
	// HY and HUV are the strength of the filtering of the luma and chroma planes: larger values blend more
	// dissimilar samples. 0 passes the planes through unchanged.
	HY, HUV float64

	// TY and TUV are the temporal radius used for the luma and chroma planes: the number of frames before
	// and after the current one used as samples. 0 filters each frame on its own.
	TY, TUV int

	// Sigma of the Gaussian weights of the 7x7 comparison window.
	Sigma float64

	// SampleExpand sets the sample set of each pixel to a square of side 6*SampleExpand+1.
	SampleExpand int

	// Linear, Correction and Balanced are accepted for compatibility: only Linear is passed to the kernels,
	// which ignore it. Chroma planes always use Linear and Balanced false.
	Linear, Correction, Balanced bool

	// Alpha is the number of best weighted samples blended per pixel. It is rounded down to a multiple of 8.
	Alpha int

	// Driver is the name of the compute driver. Empty uses compute.DefaultDriver.
	Driver string

	// DeviceID selects the device of the driver.
	DeviceID int

	// DriverOptions are passed to the driver.
	DriverOptions compute.Options
}

// DefaultOptions returns the Options used when none is given.
func DefaultOptions() Options {
	return Options{
		HY:           1,
		HUV:          1,
		Sigma:        1,
		SampleExpand: 1,
		Correction:   true,
		Alpha:        MaxAlphaSize,
	}
}

// Normalize clamps the options to their valid ranges.
func (o *Options) Normalize() {
	o.HY = max(o.HY, 0)
	o.HUV = max(o.HUV, 0)
	o.TY = min(max(o.TY, 0), nlm.MaxTemporalRadius)
	o.TUV = min(max(o.TUV, 0), nlm.MaxTemporalRadius)
	o.Sigma = max(o.Sigma, MinSigma)
	o.SampleExpand = min(max(o.SampleExpand, 1), nlm.MaxSampleExpand)
	o.Alpha = min(max(o.Alpha, MinAlphaSize), MaxAlphaSize)
	o.DeviceID = max(o.DeviceID, 0)
}

// AlphaSize is the value of the ALPHASIZE macro the program is compiled with: Alpha/8.
func (o *Options) AlphaSize() int {
	return o.Alpha / nlm.Cooperators
}

// StrengthY returns the strength of the luma filter as used by the kernels.
func (o *Options) StrengthY() float32 {
	return float32(o.HY / StrengthScale)
}

// StrengthUV returns the strength of the chroma filters as used by the kernels.
func (o *Options) StrengthUV() float32 {
	return float32(o.HUV / StrengthScale)
}

// GaussianWeights returns the weights of the comparison window for Sigma.
func (o *Options) GaussianWeights() []float32 {
	return nlm.GaussianWeights(math32.Max(float32(o.Sigma), MinSigma))
}

// String implements fmt.Stringer.
func (o Options) String() string {
	return fmt.Sprintf("hY=%g hUV=%g tY=%d tUV=%d s=%g x=%d l=%v c=%v b=%v a=%d",
		o.HY, o.HUV, o.TY, o.TUV, o.Sigma, o.SampleExpand, o.Linear, o.Correction, o.Balanced, o.Alpha)
}

// RegisterFlags binds the options to flags of fs, using the current values as defaults.
// The flag names are the short names of the parameters: hY, hUV, tY, tUV, s, x, l, c, b and a.
func (o *Options) RegisterFlags(fs *flag.FlagSet) {
	fs.Float64Var(&o.HY, "hY", o.HY, "strength of the luma filter, 0 passes luma through")
	fs.Float64Var(&o.HUV, "hUV", o.HUV, "strength of the chroma filter, 0 passes chroma through")
	fs.IntVar(&o.TY, "tY", o.TY, fmt.Sprintf("temporal radius of the luma filter (0 to %d)", nlm.MaxTemporalRadius))
	fs.IntVar(&o.TUV, "tUV", o.TUV, fmt.Sprintf("temporal radius of the chroma filter (0 to %d)", nlm.MaxTemporalRadius))
	fs.Float64Var(&o.Sigma, "s", o.Sigma, "sigma of the Gaussian weights of the comparison window")
	fs.IntVar(&o.SampleExpand, "x", o.SampleExpand,
		fmt.Sprintf("sample expand (1 to %d): samples from a square of side 6x+1", nlm.MaxSampleExpand))
	fs.BoolVar(&o.Linear, "l", o.Linear, "linear processing of luma (ignored)")
	fs.BoolVar(&o.Correction, "c", o.Correction, "correction (ignored)")
	fs.BoolVar(&o.Balanced, "b", o.Balanced, "balanced (ignored)")
	fs.IntVar(&o.Alpha, "a", o.Alpha,
		fmt.Sprintf("number of best samples blended per pixel (%d to %d)", MinAlphaSize, MaxAlphaSize))
}
