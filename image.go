package nlmeans

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// chromaScale returns the horizontal and vertical subsampling factors of a ratio.
func chromaScale(ratio image.YCbCrSubsampleRatio) (sx, sy int) {
	switch ratio {
	case image.YCbCrSubsampleRatio422:
		return 2, 1
	case image.YCbCrSubsampleRatio420:
		return 2, 2
	case image.YCbCrSubsampleRatio440:
		return 1, 2
	case image.YCbCrSubsampleRatio411:
		return 4, 1
	case image.YCbCrSubsampleRatio410:
		return 4, 2
	default:
		return 1, 1
	}
}

// FromImage converts img to a planar frame.
//
// An *image.YCbCr (as decoded from JPEG) keeps its chroma subsampling. Any other image is converted to YCbCr
// 4:4:4.
func FromImage(img image.Image) *Frame {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if yc, ok := img.(*image.YCbCr); ok {
		sx, sy := chromaScale(yc.SubsampleRatio)
		f := NewFrame(width, height, (width+sx-1)/sx, (height+sy-1)/sy)
		for y := range height {
			for x := range width {
				f.Y().Set(x, y, yc.Y[yc.YOffset(bounds.Min.X+x, bounds.Min.Y+y)])
			}
		}
		for cy := range f.U().Height {
			for cx := range f.U().Width {
				offset := yc.COffset(bounds.Min.X+cx*sx, bounds.Min.Y+cy*sy)
				f.U().Set(cx, cy, yc.Cb[offset])
				f.V().Set(cx, cy, yc.Cr[offset])
			}
		}
		return f
	}

	f := NewFrame(width, height, width, height)
	for y := range height {
		for x := range width {
			c := color.RGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.RGBA)
			yy, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
			f.Y().Set(x, y, yy)
			f.U().Set(x, y, cb)
			f.V().Set(x, y, cr)
		}
	}
	return f
}

// Image converts the frame to an *image.YCbCr. The chroma planes must have one of the sizes of the
// subsampling ratios supported by the image package.
func (f *Frame) Image() (*image.YCbCr, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	width, height := f.Y().Width, f.Y().Height
	for _, ratio := range []image.YCbCrSubsampleRatio{
		image.YCbCrSubsampleRatio444,
		image.YCbCrSubsampleRatio422,
		image.YCbCrSubsampleRatio420,
		image.YCbCrSubsampleRatio440,
		image.YCbCrSubsampleRatio411,
		image.YCbCrSubsampleRatio410,
	} {
		sx, sy := chromaScale(ratio)
		if f.U().Width != (width+sx-1)/sx || f.U().Height != (height+sy-1)/sy {
			continue
		}
		img := image.NewYCbCr(image.Rect(0, 0, width, height), ratio)
		for y := range height {
			copy(img.Y[y*img.YStride:y*img.YStride+width], f.Y().Pix[y*f.Y().Pitch:])
		}
		for cy := range f.U().Height {
			cw := f.U().Width
			copy(img.Cb[cy*img.CStride:cy*img.CStride+cw], f.U().Pix[cy*f.U().Pitch:])
			copy(img.Cr[cy*img.CStride:cy*img.CStride+cw], f.V().Pix[cy*f.V().Pitch:])
		}
		return img, nil
	}
	return nil, errors.Errorf("chroma planes of %dx%d don't match any subsampling of a %dx%d image",
		f.U().Width, f.U().Height, width, height)
}

// Image returns the plane as a grayscale image.
func (p *Plane) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for y := range p.Height {
		copy(img.Pix[y*img.Stride:y*img.Stride+p.Width], p.Pix[y*p.Pitch:])
	}
	return img
}
