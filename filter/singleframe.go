package filter

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/nlmeans/compute"
	"github.com/gomlx/nlmeans/nlm"
)

// SingleFrameRegionHeight is the height of the regions filtered by SingleFrame.
const SingleFrameRegionHeight = 32

// Argument indices of NLMSingleFrame.
const singleArgTopLeft = 3

// SingleFrame filters a plane spatially, using only the samples of the frame itself.
//
// It owns the source and destination planes and an alpha buffer for one region of width x 32 pixels.
type SingleFrame struct {
	*frameBase
	source compute.Handle
	filter *compute.Kernel
}

var _ Filter = (*SingleFrame)(nil)

// NewSingleFrame allocates the buffers and prepares the kernels of a spatial-only filter.
// config.TemporalRadius is ignored.
func NewSingleFrame(device *compute.Device, config Config) (*SingleFrame, error) {
	config.TemporalRadius = 0
	base, err := newFrameBase(device, config, SingleFrameRegionHeight)
	if err != nil {
		return nil, err
	}
	f := &SingleFrame{frameBase: base}
	if err = f.init(); err != nil {
		if err2 := f.Destroy(); err2 != nil {
			klog.Errorf("SingleFrame: releasing buffers after failed initialization: %+v", err2)
		}
		return nil, errors.WithMessagef(err, "initializing SingleFrame filter %dx%d", config.Width, config.Height)
	}
	klog.V(1).Infof("SingleFrame %dx%d on %s: h=%g, sample expand %d, alpha set of %d", config.Width, config.Height,
		device, config.H, config.SampleExpand, f.alphaSetSize)
	return f, nil
}

func (f *SingleFrame) init() error {
	var err error
	if f.source, err = f.allocPlane(); err != nil {
		return err
	}
	if err = f.initBuffers(); err != nil {
		return err
	}
	if err = f.initKernels(); err != nil {
		return err
	}
	if err = f.sorter.SetNumberedArg(sortArgInputPlane, f.source); err != nil {
		return err
	}

	if f.filter, err = f.device.NewKernelInstance(nlm.KernelSingleFrame); err != nil {
		return err
	}
	c := &f.config
	for _, arg := range []any{
		f.source,
		int32(c.Width),
		int32(c.Height),
		compute.Int2{},
		1 / c.H,
		int32(c.SampleExpand),
		c.Gaussian,
		boolToInt32(c.Linear),
		int32(f.alphaSetSize),
		f.alpha,
	} {
		if err = f.filter.SetArg(arg); err != nil {
			return err
		}
	}
	return f.setFilterDomain(f.filter)
}

// Kind implements Filter.
func (f *SingleFrame) Kind() Kind { return KindSingleFrame }

// CopyTo uploads the source plane from src, whose rows are Config.SrcPitch bytes apart.
func (f *SingleFrame) CopyTo(src []byte) error {
	err := f.buffers.CopyToPlane(f.source, src, f.config.Width, f.config.Height, f.config.SrcPitch)
	return errors.WithMessage(err, "SingleFrame.CopyTo")
}

// Execute filters the source plane into the destination plane, one region at a time: for each region the
// alpha buffer is zeroed, then the samples are weighed and finally sorted and blended.
func (f *SingleFrame) Execute() error {
	for topLeft := range f.regions() {
		klog.V(2).Infof("SingleFrame: region at %s", topLeft)
		if err := f.filter.SetNumberedArg(singleArgTopLeft, topLeft); err != nil {
			return err
		}
		zeroed, err := f.zeroAlpha(nil)
		if err != nil {
			return err
		}
		weighed, err := f.filter.ExecuteAsync(zeroed)
		if err != nil {
			return err
		}
		sorted, err := f.sort(f.source, topLeft, weighed)
		if err != nil {
			return err
		}
		if err = sorted.Await(); err != nil {
			return errors.WithMessagef(err, "SingleFrame: region at %s", topLeft)
		}
	}
	return nil
}
