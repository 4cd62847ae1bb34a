package filter

import (
	"encoding/binary"
	"iter"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/gomlx/nlmeans/compute"
	"github.com/gomlx/nlmeans/nlm"
)

// Argument indices of the Finalise kernel bound per region.
const (
	sortArgInputPlane = 0
	sortArgTopLeft    = 2
)

// frameBase holds what SingleFrame and MultiFrame have in common: the destination plane, the alpha buffer
// shared by all the regions, and the Initialise and Finalise kernels.
type frameBase struct {
	device  *compute.Device
	buffers *compute.Buffers
	config  Config

	regionWidth, regionHeight int
	alphaSetSize              int

	destination, alpha compute.Handle
	owned              []compute.Handle

	initialise, sorter *compute.Kernel
}

func newFrameBase(device *compute.Device, config Config, regionHeight int) (*frameBase, error) {
	if device == nil {
		return nil, compute.Errorf(compute.CodeDeviceUnavailable, "no device given")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &frameBase{
		device:       device,
		buffers:      device.Buffers(),
		config:       config,
		regionWidth:  config.Width,
		regionHeight: regionHeight,
		alphaSetSize: nlm.AlphaSetSize(config.TemporalRadius, config.SampleExpand),
	}, nil
}

func (f *frameBase) allocPlane() (compute.Handle, error) {
	h, err := f.buffers.AllocPlane(f.config.Width, f.config.Height)
	if err != nil {
		return compute.InvalidHandle, err
	}
	f.owned = append(f.owned, h)
	return h, nil
}

// initBuffers allocates the destination plane and the alpha buffer.
func (f *frameBase) initBuffers() error {
	var err error
	if f.destination, err = f.allocPlane(); err != nil {
		return err
	}
	size := nlm.AlphaBufferSize(f.config.TemporalRadius, f.regionWidth, f.regionHeight, f.config.SampleExpand)
	if f.alpha, err = f.buffers.AllocBuffer(size); err != nil {
		return err
	}
	f.owned = append(f.owned, f.alpha)
	return nil
}

// bindArgs binds the arguments to the given indices, and returns the first failure.
func bindArgs(k *compute.Kernel, args map[int]any) error {
	for index, value := range args {
		if err := k.SetNumberedArg(index, value); err != nil {
			return err
		}
	}
	return nil
}

// setFilterDomain sets the execution domain of the filter kernels: 8 work items per pixel of the region.
func (f *frameBase) setFilterDomain(k *compute.Kernel) error {
	if err := k.SetWorkDim(2); err != nil {
		return err
	}
	k.SetLocalWorkSize(nlm.FilterLocalSize...)
	k.SetScalarGlobalSize(f.regionWidth, f.regionHeight*nlm.Cooperators)
	k.SetScalarItemSize(1, 1)
	return nil
}

// initKernels creates the Initialise kernel, that zeroes the alpha buffer, and the Finalise kernel with its
// static arguments bound: the input plane (argument 0) and the top-left corner of the region (argument 2) are
// bound per region.
func (f *frameBase) initKernels() error {
	var err error
	if f.initialise, err = f.device.NewKernelInstance(nlm.KernelInitialise); err != nil {
		return err
	}
	if err = bindArgs(f.initialise, map[int]any{0: f.alpha, 1: uint32(0)}); err != nil {
		return err
	}
	if err = f.initialise.SetWorkDim(1); err != nil {
		return err
	}
	f.initialise.SetLocalWorkSize(nlm.InitialiseLocalSize...)
	f.initialise.SetScalarGlobalSize(f.regionWidth * f.regionHeight * f.alphaSetSize)
	f.initialise.SetScalarItemSize(1)

	if f.sorter, err = f.device.NewKernelInstance(nlm.KernelFinalise); err != nil {
		return err
	}
	err = bindArgs(f.sorter, map[int]any{
		1: int32(f.regionWidth),
		2: compute.Int2{},
		3: boolToInt32(f.config.Linear),
		4: int32(nlm.ReservedAlphaSize),
		5: int32(f.alphaSetSize),
		6: f.alpha,
		7: f.destination,
	})
	if err != nil {
		return err
	}
	return f.setFilterDomain(f.sorter)
}

// regions returns the top-left corners of the regions covering the plane, column by column.
func (f *frameBase) regions() iter.Seq[compute.Int2] {
	roundedWidth := f.regionWidth * ((f.config.Width + f.regionWidth - 1) / f.regionWidth)
	roundedHeight := f.regionHeight * ((f.config.Height + f.regionHeight - 1) / f.regionHeight)
	return func(yield func(compute.Int2) bool) {
		for x := 0; x < roundedWidth; x += f.regionWidth {
			for y := 0; y < roundedHeight; y += f.regionHeight {
				if !yield(compute.Int2{X: int32(x), Y: int32(y)}) {
					return
				}
			}
		}
	}
}

// zeroAlpha enqueues the zeroing of the alpha buffer after antecedent, which can be nil.
func (f *frameBase) zeroAlpha(antecedent *compute.Event) (*compute.Event, error) {
	return f.initialise.ExecuteAsync(antecedent)
}

// sort enqueues the Finalise kernel of the region, after all the antecedents.
func (f *frameBase) sort(input compute.Handle, topLeft compute.Int2, antecedents ...*compute.Event) (*compute.Event, error) {
	if err := f.sorter.SetNumberedArg(sortArgInputPlane, input); err != nil {
		return nil, err
	}
	if err := f.sorter.SetNumberedArg(sortArgTopLeft, topLeft); err != nil {
		return nil, err
	}
	if klog.V(3).Enabled() {
		f.logAlphaSet(topLeft, antecedents)
	}
	return f.sorter.ExecuteWaitList(antecedents...)
}

// logAlphaSet waits for the weighing of the region and logs the weights of its top-left target pixel.
func (f *frameBase) logAlphaSet(topLeft compute.Int2, antecedents []*compute.Event) {
	if err := compute.WaitForEvents(antecedents...); err != nil {
		klog.Errorf("filter: weighing region %s: %+v", topLeft, err)
		return
	}
	weights, err := f.AlphaWeights(0, 0)
	if err != nil {
		klog.Errorf("filter: reading alpha set of region %s: %+v", topLeft, err)
		return
	}
	klog.Infof("filter: region %s, weights of the first target pixel: %v", topLeft, weights)
}

// AlphaWeights reads back the weights of the alpha set of the target pixel (x, y) of the last region
// weighed, as half floats. x and y are relative to the top-left corner of the region.
//
// It must not be called while kernels of the filter are running.
func (f *frameBase) AlphaWeights(x, y int) ([]float16.Float16, error) {
	if x < 0 || y < 0 || x >= f.regionWidth || y >= f.regionHeight {
		return nil, compute.Errorf(compute.CodeInvalidParameter, "pixel (%d, %d) outside region of %dx%d",
			x, y, f.regionWidth, f.regionHeight)
	}
	first := (y*f.regionWidth + x) * f.alphaSetSize
	data := make([]byte, 4*(first+f.alphaSetSize))
	if err := f.buffers.CopyFromBuffer(f.alpha, data); err != nil {
		return nil, errors.WithMessagef(err, "reading alpha set of pixel (%d, %d)", x, y)
	}
	entries := make([]uint32, f.alphaSetSize)
	for ii := range entries {
		entries[ii] = binary.NativeEndian.Uint32(data[4*(first+ii):])
	}
	return nlm.WeightsFloat16(entries), nil
}

// CopyFrom starts the download of the filtered plane to dst.
func (f *frameBase) CopyFrom(dst []byte) (*compute.Event, error) {
	e, err := f.buffers.CopyFromPlaneAsync(f.destination, dst, f.config.Width, f.config.Height, f.config.DstPitch, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "copying filtered plane")
	}
	return e, nil
}

// Destroy releases all the buffers owned by the filter.
func (f *frameBase) Destroy() error {
	var firstErr error
	for ii := len(f.owned) - 1; ii >= 0; ii-- {
		if err := f.buffers.Destroy(f.owned[ii]); err != nil {
			klog.Errorf("filter: destroying buffer #%d: %+v", f.owned[ii], err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	f.owned = nil
	return firstErr
}
