// Package nlm implements the two-phase non-local means (NLM) de-noising kernels.
//
// For every target pixel, phase 1 (NLMSingleFrame or NLMMultiFrameFourPixel) compares the 7x7 window around the
// target with the 7x7 window around every sample pixel of a square set, in one or more frames, and writes one
// AlphaEntry per sample (its similarity weight and its pixel value) into an alpha buffer. Phase 2 (Finalise)
// keeps the strongest entries of each target, and blends their weighted average with the target pixel.
//
// A work group processes a tile of 8x2 target pixels with 8 cooperating work items per target pixel, each one
// handling every 8th sample of the set. Program returns the kernels, both as Go functions (for the
// software driver of package compute) and as OpenCL C source.
package nlm

import "github.com/gomlx/nlmeans/compute"

const (
	// TileWidth and TileHeight are the dimensions of the tile of target pixels processed by one work group.
	TileWidth, TileHeight = 8, 2

	// Cooperators is the number of work items that share the samples of one target pixel.
	Cooperators = 8

	// PixelsPerGroup is the number of target pixels per work group.
	PixelsPerGroup = TileWidth * TileHeight

	// WindowRadius of the 7x7 comparison window.
	WindowRadius = 3

	// WindowSide of the comparison window.
	WindowSide = 2*WindowRadius + 1

	// GaussianSize is the number of weights of the comparison window.
	GaussianSize = WindowSide * WindowSide

	// MaxSampleExpand is the largest supported sample expand factor.
	MaxSampleExpand = 4

	// MaxTemporalRadius is the largest supported temporal radius.
	MaxTemporalRadius = 64

	// MinTargetWeight is the smallest weight given to the target pixel in the final blend.
	MinTargetWeight float32 = 0.004

	// AlphaSizeDefine is the name of the define with the number of entries each cooperator keeps in phase 2.
	AlphaSizeDefine = "ALPHASIZE"

	// DefaultAlphaSize is the default number of entries each cooperator keeps in phase 2.
	DefaultAlphaSize = 16

	// ReservedAlphaSize is passed as the alpha_size argument of Finalise, which uses ALPHASIZE instead.
	ReservedAlphaSize = 16
)

// Work-group geometry of the kernels.
var (
	// FilterLocalSize is the local work size of the phase 1 and phase 2 kernels: cooperator x pixel.
	FilterLocalSize = []int{Cooperators, PixelsPerGroup}

	// InitialiseLocalSize is the local work size of Initialise.
	InitialiseLocalSize = []int{64}
)

// Radius returns the radius of the sample set for the given sample expand factor.
func Radius(sampleExpand int) int {
	return WindowRadius * sampleExpand
}

// SetSide returns the side of the square sample set for the given sample expand factor.
func SetSide(sampleExpand int) int {
	return 2*Radius(sampleExpand) + 1
}

// StrideCount returns the number of samples each cooperator processes per frame.
func StrideCount(sampleExpand int) int {
	side := SetSide(sampleExpand)
	return side * side >> 3
}

// AlphaSetSize returns the number of alpha entries per target pixel, for the given temporal radius
// (0 for a single frame) and sample expand factor: one entry per sample, excluding the target itself.
func AlphaSetSize(temporalRadius, sampleExpand int) int {
	side := SetSide(sampleExpand)
	return (2*temporalRadius + 1) * (side*side - 1)
}

// AlphaBufferSize returns the size in bytes of the alpha buffer for a region of regionWidth x regionHeight
// target pixels.
func AlphaBufferSize(temporalRadius, regionWidth, regionHeight, sampleExpand int) int {
	return regionWidth * regionHeight * AlphaSetSize(temporalRadius, sampleExpand) * 4
}

// Defines returns the defines the Program must be compiled with, for the given number of entries kept by each
// cooperator in phase 2.
func Defines(alphaSize int) compute.Defines {
	return compute.Defines{AlphaSizeDefine: alphaSize}
}
