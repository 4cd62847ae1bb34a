package filter

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/nlmeans/compute"
	"github.com/gomlx/nlmeans/nlm"
)

// MultiFrameRegionHeight is the height of the regions filtered by MultiFrame.
const MultiFrameRegionHeight = 8

// Argument indices of NLMMultiFrameFourPixel.
const (
	multiArgTargetPlane = iota
	multiArgSamplePlane
	multiArgSampleEqualsTarget
	multiArgWidth
	multiArgHeight
	multiArgTopLeft
	multiArgH
	multiArgSampleExpand
	multiArgGaussian
	multiArgLinear
	multiArgAlphaSetSize
	multiArgAlphaSoFar
	multiArgRegionAlpha
)

// forcedCopies is the number of first uses of a slot that always upload the frame, whatever frame the slot
// holds: the frame numbers of the first frames of a clip are unreliable.
const forcedCopies = 3

// frameSlot is one plane of the ring of MultiFrame, with the number of the frame it holds.
type frameSlot struct {
	plane       compute.Handle
	frameNumber int
	used        int
}

// IsCopyRequired returns whether frame n must be uploaded to the slot.
func (s *frameSlot) IsCopyRequired(n int) bool {
	return s.used < forcedCopies || n != s.frameNumber
}

// MultiFrame filters a plane using the samples of the frames within TemporalRadius of the target frame.
//
// It keeps the 2r+1 frames of the window in a ring of slots: slot k always holds a frame number congruent to
// k-r modulo 2r+1, so when the target advances by one frame, only the slot of the frame that left the window
// is uploaded again.
//
// Each cycle is:
//
//	m := filter.NewManifest()
//	f.SupplyFrameNumbers(target, m)
//	for n, ok := m.GetFrameNumber(); ok; n, ok = m.GetFrameNumber() {
//		m.Supply(n, pixelsOfFrame(n))
//	}
//	f.CopyTo(m)
//	f.Execute()
//	f.CopyFrom(dst)
type MultiFrame struct {
	*frameBase
	slots       []*frameSlot
	target      int
	hasTarget   bool
	filter      *compute.Kernel
	alphaStride int
}

var _ Filter = (*MultiFrame)(nil)

// NewMultiFrame allocates the buffers and prepares the kernels of a temporal filter.
// config.TemporalRadius must be at least 1.
func NewMultiFrame(device *compute.Device, config Config) (*MultiFrame, error) {
	if config.TemporalRadius < 1 {
		return nil, compute.Errorf(compute.CodeInvalidParameter, "MultiFrame requires a temporal radius >= 1, got %d",
			config.TemporalRadius)
	}
	base, err := newFrameBase(device, config, MultiFrameRegionHeight)
	if err != nil {
		return nil, err
	}
	f := &MultiFrame{frameBase: base}
	numFrames := 2*config.TemporalRadius + 1
	f.alphaStride = f.alphaSetSize / (nlm.Cooperators * numFrames)
	if err = f.init(numFrames); err != nil {
		if err2 := f.Destroy(); err2 != nil {
			klog.Errorf("MultiFrame: releasing buffers after failed initialization: %+v", err2)
		}
		return nil, errors.WithMessagef(err, "initializing MultiFrame filter %dx%d, radius %d",
			config.Width, config.Height, config.TemporalRadius)
	}
	klog.V(1).Infof("MultiFrame %dx%d on %s: h=%g, sample expand %d, temporal radius %d, alpha set of %d",
		config.Width, config.Height, device, config.H, config.SampleExpand, config.TemporalRadius, f.alphaSetSize)
	return f, nil
}

func (f *MultiFrame) init(numFrames int) error {
	var err error
	if err = f.initBuffers(); err != nil {
		return err
	}
	if err = f.initKernels(); err != nil {
		return err
	}
	if f.filter, err = f.device.NewKernelInstance(nlm.KernelMultiFrame); err != nil {
		return err
	}
	c := &f.config
	err = bindArgs(f.filter, map[int]any{
		multiArgWidth:        int32(c.Width),
		multiArgHeight:       int32(c.Height),
		multiArgH:            1 / c.H,
		multiArgSampleExpand: int32(c.SampleExpand),
		multiArgGaussian:     c.Gaussian,
		multiArgLinear:       boolToInt32(c.Linear),
		multiArgAlphaSetSize: int32(f.alphaSetSize),
		multiArgRegionAlpha:  f.alpha,
	})
	if err != nil {
		return err
	}
	if err = f.setFilterDomain(f.filter); err != nil {
		return err
	}

	f.slots = make([]*frameSlot, numFrames)
	for ii := range f.slots {
		plane, err := f.allocPlane()
		if err != nil {
			return compute.WrapError(compute.CodeMultiFrameInitializationFailed, err,
				"allocating plane of frame slot %d of %d", ii, numFrames)
		}
		f.slots[ii] = &frameSlot{plane: plane}
	}
	return nil
}

// Kind implements Filter.
func (f *MultiFrame) Kind() Kind { return KindMultiFrame }

// NumSlots returns the number of frames in the temporal window.
func (f *MultiFrame) NumSlots() int { return len(f.slots) }

// slotFrameNumber returns the frame number slot k must hold for the target frame.
func (f *MultiFrame) slotFrameNumber(k, target int) int {
	r, n := f.config.TemporalRadius, len(f.slots)
	i := k - r
	return target - mod(target-i+r, n) + r
}

// targetSlot returns the slot holding the target frame.
func (f *MultiFrame) targetSlot() int {
	return mod(f.target+f.config.TemporalRadius, len(f.slots))
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}

// SupplyFrameNumbers sets the target frame and requests in m the frames the slots need for it.
//
// Frame numbers are not clamped to the clip: near its start and end, they can be before its first frame or
// after its last, and it is up to the host to supply a replacement.
func (f *MultiFrame) SupplyFrameNumbers(target int, m *Manifest) {
	f.target = target
	f.hasTarget = true
	for k, slot := range f.slots {
		n := f.slotFrameNumber(k, target)
		if slot.IsCopyRequired(n) {
			m.Request(n)
		}
	}
	klog.V(2).Infof("MultiFrame: target frame %d requests frames %v", target, m.Pending())
}

// CopyTo uploads to the slots the frames they need, as supplied in m, and waits for the uploads.
// Every frame requested by SupplyFrameNumbers must have been supplied.
//
// Slots only record their new frame numbers once all uploads completed. If any upload fails, the slots
// that were being overwritten are reset, so they are uploaded again on their next use.
func (f *MultiFrame) CopyTo(m *Manifest) error {
	if !f.hasTarget {
		return compute.Errorf(compute.CodeInvalidParameter, "MultiFrame.CopyTo called before SupplyFrameNumbers")
	}
	var uploads []*compute.Event
	copied := make(map[int]int) // Slot -> frame number.
	err := func() error {
		for k, slot := range f.slots {
			n := f.slotFrameNumber(k, f.target)
			if !slot.IsCopyRequired(n) {
				continue
			}
			pix, found := m.Retrieve(n)
			if !found {
				return compute.Errorf(compute.CodeInvalidParameter, "frame %d for slot %d was not supplied", n, k)
			}
			e, err := f.buffers.CopyToPlaneAsync(slot.plane, pix, f.config.Width, f.config.Height, f.config.SrcPitch)
			if err != nil {
				return errors.WithMessagef(err, "MultiFrame: uploading frame %d to slot %d", n, k)
			}
			uploads = append(uploads, e)
			copied[k] = n
		}
		return nil
	}()
	if waitErr := compute.WaitForEvents(uploads...); err == nil {
		err = waitErr
	}
	if err != nil {
		for k := range copied {
			f.slots[k].used = 0
		}
		return err
	}
	for k, slot := range f.slots {
		if n, found := copied[k]; found {
			slot.frameNumber = n
		}
		slot.used++
	}
	return f.device.Finish()
}

// runSlot enqueues the weighing of the samples of one slot for the current region.
func (f *MultiFrame) runSlot(k int, isTarget bool, alphaSoFar int, antecedent *compute.Event) (*compute.Event, error) {
	err := bindArgs(f.filter, map[int]any{
		multiArgSamplePlane:        f.slots[k].plane,
		multiArgSampleEqualsTarget: boolToInt32(isTarget),
		multiArgAlphaSoFar:         int32(alphaSoFar),
	})
	if err != nil {
		return nil, err
	}
	return f.filter.ExecuteAsync(antecedent)
}

// Execute filters the target frame. For each region, the samples of every other slot are weighed first, then
// those of the target slot itself (skipping the target pixel), each one after the entries of the previous
// ones; finally the entries are sorted and blended.
func (f *MultiFrame) Execute() error {
	if !f.hasTarget {
		return compute.Errorf(compute.CodeInvalidParameter, "MultiFrame.Execute called before SupplyFrameNumbers")
	}
	targetSlot := f.targetSlot()
	targetPlane := f.slots[targetSlot].plane
	if err := f.filter.SetNumberedArg(multiArgTargetPlane, targetPlane); err != nil {
		return err
	}
	var sorted *compute.Event
	for topLeft := range f.regions() {
		if err := f.filter.SetNumberedArg(multiArgTopLeft, topLeft); err != nil {
			return err
		}
		zeroed, err := f.zeroAlpha(sorted)
		if err != nil {
			return err
		}
		weighed := make([]*compute.Event, 0, len(f.slots))
		alphaSoFar := 0
		for k := range f.slots {
			if k == targetSlot {
				continue
			}
			e, err := f.runSlot(k, false, alphaSoFar, zeroed)
			if err != nil {
				return err
			}
			weighed = append(weighed, e)
			alphaSoFar += f.alphaStride
		}
		e, err := f.runSlot(targetSlot, true, alphaSoFar, zeroed)
		if err != nil {
			return err
		}
		weighed = append(weighed, e)
		if sorted, err = f.sort(targetPlane, topLeft, weighed...); err != nil {
			return err
		}
	}
	if err := sorted.Await(); err != nil {
		return errors.WithMessagef(err, "MultiFrame: target frame %d", f.target)
	}
	return nil
}
