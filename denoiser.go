package nlmeans

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/nlmeans/compute"
	"github.com/gomlx/nlmeans/filter"
	"github.com/gomlx/nlmeans/nlm"
)

// Denoiser filters the frames of a FrameSource.
//
// The compute context, the compiled program and the filters are created on the first call to Denoise, when
// the layout of the frames is known. A Denoiser is not safe for concurrent use.
type Denoiser struct {
	source  FrameSource
	options Options

	ctx      *compute.Context
	device   *compute.Device
	gaussian compute.Handle
	filters  [NumPlanes]filter.Filter

	// Layout of the source and destination frames, set on initialization.
	layout    *Frame
	srcPitch  [NumPlanes]int
	dstPitch  [NumPlanes]int
	initError error
}

// NewDenoiser creates a Denoiser for the frames of source. The options are normalized.
func NewDenoiser(source FrameSource, options Options) (*Denoiser, error) {
	if source == nil || source.NumFrames() <= 0 {
		return nil, compute.Errorf(compute.CodeInvalidParameter, "frame source is empty")
	}
	options.Normalize()
	klog.V(1).Infof("nlmeans: new denoiser for %d frames, options %s", source.NumFrames(), options)
	return &Denoiser{source: source, options: options}, nil
}

// Options returns the normalized options of the Denoiser.
func (d *Denoiser) Options() Options { return d.options }

// Device returns the compute device used, or nil before the first frame is filtered.
func (d *Denoiser) Device() *compute.Device { return d.device }

// Filter returns the filter of the plane, or nil if the plane is passed through or the Denoiser is not
// initialized yet.
func (d *Denoiser) Filter(id PlaneID) filter.Filter { return d.filters[id] }

func (d *Denoiser) strength(id PlaneID) float32 {
	if id.IsChroma() {
		return d.options.StrengthUV()
	}
	return d.options.StrengthY()
}

func (d *Denoiser) temporalRadius(id PlaneID) int {
	if id.IsChroma() {
		return d.options.TUV
	}
	return d.options.TY
}

// isFiltered returns whether the plane is filtered, as opposed to passed through.
func (d *Denoiser) isFiltered(id PlaneID) bool {
	return d.strength(id) > 0
}

func (d *Denoiser) isFilteringAny() bool {
	for id := range PlaneID(NumPlanes) {
		if d.isFiltered(id) {
			return true
		}
	}
	return false
}

// init creates the context and the filters for the layout of src and dst.
// A failed initialization is not retried.
func (d *Denoiser) init(src, dst *Frame) error {
	if d.initError != nil {
		return d.initError
	}
	if d.layout != nil {
		return nil
	}
	d.initError = d.initFilters(src, dst)
	if d.initError != nil {
		if err := d.release(); err != nil {
			klog.Errorf("nlmeans: releasing resources after failed initialization: %+v", err)
		}
		return d.initError
	}
	d.layout = NewFrameLike(src)
	return nil
}

func (d *Denoiser) initFilters(src, dst *Frame) error {
	o := &d.options
	var err error
	d.ctx, err = compute.NewContext(o.Driver, o.DriverOptions)
	if err != nil {
		return err
	}
	if err = d.ctx.Compile(nlm.Program(), nlm.Defines(o.AlphaSize()), nlm.EntryPoints...); err != nil {
		return err
	}
	if d.device, err = d.ctx.Device(o.DeviceID); err != nil {
		return err
	}
	buffers := d.device.Buffers()
	if d.gaussian, err = buffers.AllocBuffer(4 * nlm.GaussianSize); err != nil {
		return err
	}
	if err = buffers.CopyToBuffer(d.gaussian, nlm.GaussianBytes(o.GaussianWeights())); err != nil {
		return err
	}

	for id := range PlaneID(NumPlanes) {
		d.srcPitch[id] = src.Plane(id).Pitch
		d.dstPitch[id] = dst.Plane(id).Pitch
		if !d.isFiltered(id) {
			continue
		}
		config := filter.Config{
			Width:          src.Plane(id).Width,
			Height:         src.Plane(id).Height,
			SrcPitch:       d.srcPitch[id],
			DstPitch:       d.dstPitch[id],
			H:              d.strength(id),
			SampleExpand:   o.SampleExpand,
			TemporalRadius: d.temporalRadius(id),
			Linear:         o.Linear && !id.IsChroma(),
			Correction:     o.Correction,
			Balanced:       o.Balanced && !id.IsChroma(),
			Gaussian:       d.gaussian,
		}
		if d.filters[id], err = filter.New(d.device, config); err != nil {
			return errors.WithMessagef(err, "creating filter of plane %s", id)
		}
		klog.V(1).Infof("nlmeans: plane %s filtered by %s (%dx%d)", id, d.filters[id].Kind(), config.Width,
			config.Height)
	}
	return nil
}

// checkFrame verifies that f has the layout and pitches the filters were created for.
func (d *Denoiser) checkFrame(f *Frame, pitches *[NumPlanes]int, what string) error {
	if err := f.Validate(); err != nil {
		return compute.WrapError(compute.CodeInvalidParameter, err, "%s frame", what)
	}
	if d.layout == nil {
		return nil
	}
	if !f.SameLayout(d.layout) {
		return compute.Errorf(compute.CodeInvalidParameter, "%s frame layout changed: Y plane %dx%d, was %dx%d",
			what, f.Y().Width, f.Y().Height, d.layout.Y().Width, d.layout.Y().Height)
	}
	for id, p := range f.Planes {
		if p.Pitch != pitches[id] {
			return compute.Errorf(compute.CodeInvalidParameter, "%s frame plane %s pitch changed from %d to %d",
				what, PlaneID(id), pitches[id], p.Pitch)
		}
	}
	return nil
}

// clampFrameNumber maps frame numbers outside of the clip to its first or last frame.
func (d *Denoiser) clampFrameNumber(n int) int {
	return min(max(n, 0), d.source.NumFrames()-1)
}

// Denoise filters frame n of the source into dst, which must have the same layout as the source frames.
// Planes with strength 0 are copied unchanged.
func (d *Denoiser) Denoise(n int, dst *Frame) error {
	if n < 0 || n >= d.source.NumFrames() {
		return compute.Errorf(compute.CodeInvalidParameter, "frame %d out of range [0, %d)", n,
			d.source.NumFrames())
	}
	src, err := d.source.Frame(n)
	if err != nil {
		return errors.WithMessagef(err, "reading frame %d", n)
	}
	if err = d.checkFrame(src, &d.srcPitch, "source"); err != nil {
		return err
	}
	if err = d.checkFrame(dst, &d.dstPitch, "destination"); err != nil {
		return err
	}
	if !src.SameLayout(dst) {
		return compute.Errorf(compute.CodeInvalidParameter, "destination frame layout differs from source")
	}

	for id := range PlaneID(NumPlanes) {
		if !d.isFiltered(id) {
			dst.Plane(id).CopyFrom(src.Plane(id))
		}
	}
	if !d.isFilteringAny() {
		return nil
	}
	if err = d.init(src, dst); err != nil {
		return err
	}
	klog.V(2).Infof("nlmeans: denoising frame %d", n)
	if err = d.copyTo(n, src); err != nil {
		return errors.WithMessagef(err, "uploading frame %d", n)
	}
	return d.execute(n, dst)
}

// copyTo uploads the planes to the filters: the frame itself to the single frame filters, and the frames of
// the temporal window the multi frame filters request.
func (d *Denoiser) copyTo(n int, src *Frame) error {
	frames := map[int]*Frame{n: src}
	frameOf := func(number int) (*Frame, error) {
		number = d.clampFrameNumber(number)
		if f, found := frames[number]; found {
			return f, nil
		}
		f, err := d.source.Frame(number)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading frame %d", number)
		}
		if err = d.checkFrame(f, &d.srcPitch, "source"); err != nil {
			return nil, err
		}
		frames[number] = f
		return f, nil
	}

	for id := range PlaneID(NumPlanes) {
		switch f := d.filters[id].(type) {
		case nil:
			continue
		case *filter.SingleFrame:
			if err := f.CopyTo(src.Plane(id).Pix); err != nil {
				return errors.WithMessagef(err, "plane %s", id)
			}
		case *filter.MultiFrame:
			m := filter.NewManifest()
			f.SupplyFrameNumbers(n, m)
			for number, ok := m.GetFrameNumber(); ok; number, ok = m.GetFrameNumber() {
				sample, err := frameOf(number)
				if err != nil {
					return err
				}
				if err = m.Supply(number, sample.Plane(id).Pix); err != nil {
					return err
				}
			}
			if err := f.CopyTo(m); err != nil {
				return errors.WithMessagef(err, "plane %s", id)
			}
		}
	}
	return nil
}

// execute runs the filters in the order Y, U, V, starting the download of each plane as soon as it is
// filtered, and waits for all the downloads.
func (d *Denoiser) execute(n int, dst *Frame) error {
	var downloads []*compute.Event
	err := func() error {
		for id, f := range d.filters {
			if f == nil {
				continue
			}
			if err := f.Execute(); err != nil {
				return errors.WithMessagef(err, "filtering plane %s of frame %d", PlaneID(id), n)
			}
			e, err := f.CopyFrom(dst.Planes[id].Pix)
			if err != nil {
				return errors.WithMessagef(err, "downloading plane %s of frame %d", PlaneID(id), n)
			}
			downloads = append(downloads, e)
		}
		return nil
	}()
	// Downloads already started write into dst: they must be over before returning, even on failure.
	waitErr := compute.WaitForEvents(downloads...)
	if err != nil {
		return err
	}
	return waitErr
}

// release destroys the filters, the Gaussian weights and the context, and returns the first error.
func (d *Denoiser) release() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for id, f := range d.filters {
		if f != nil {
			keep(f.Destroy())
			d.filters[id] = nil
		}
	}
	if d.device != nil && d.gaussian != compute.InvalidHandle {
		keep(d.device.Buffers().Destroy(d.gaussian))
		d.gaussian = compute.InvalidHandle
	}
	if d.ctx != nil {
		keep(d.ctx.Destroy())
		d.ctx = nil
		d.device = nil
	}
	return firstErr
}

// Close releases the device resources. The Denoiser can't be used afterwards.
func (d *Denoiser) Close() error {
	err := d.release()
	d.layout = nil
	d.initError = errors.New("denoiser closed")
	return err
}
