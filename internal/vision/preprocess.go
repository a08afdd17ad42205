package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// DefaultCropPadding expands the face box by 20% of its width/height on each side.
const DefaultCropPadding = 0.2

// Luminance weights for RGB → grayscale.
const (
	lumaR = 0.2989
	lumaG = 0.5870
	lumaB = 0.1140
)

// Preprocessor turns a frame and a face box into a model-ready NHWC tensor.
type Preprocessor struct {
	padding float64
}

// NewPreprocessor returns a preprocessor using the given crop padding ratio.
// A negative ratio falls back to DefaultCropPadding.
func NewPreprocessor(padding float64) *Preprocessor {
	if padding < 0 {
		padding = DefaultCropPadding
	}
	return &Preprocessor{padding: padding}
}

// Prepare decodes the frame, crops the padded face region and converts it to a
// [1, targetSize, targetSize, channels] tensor with values in [0,1].
func (p *Preprocessor) Prepare(frame *Frame, box FaceBoundingBox, targetSize, channels int) (*Tensor, error) {
	img, err := frame.Decode()
	if err != nil {
		return nil, err
	}
	region, err := p.CropRegion(img.Bounds(), box)
	if err != nil {
		return nil, err
	}
	return Tensorize(img, region, targetSize, channels)
}

// CropRegion expands box by the padding margin and clamps it to bounds.
// Box coordinates are relative to bounds.Min.
func (p *Preprocessor) CropRegion(bounds image.Rectangle, box FaceBoundingBox) (image.Rectangle, error) {
	if box.Width <= 0 || box.Height <= 0 || isNaN(box.X, box.Y, box.Width, box.Height) {
		return image.Rectangle{}, fmt.Errorf("%w: box %.1fx%.1f", ErrInvalidBounds, box.Width, box.Height)
	}

	padW := box.Width * p.padding
	padH := box.Height * p.padding

	x1 := bounds.Min.X + int(math.Floor(box.X-padW))
	y1 := bounds.Min.Y + int(math.Floor(box.Y-padH))
	x2 := bounds.Min.X + int(math.Ceil(box.X+box.Width+padW))
	y2 := bounds.Min.Y + int(math.Ceil(box.Y+box.Height+padH))

	// Clamp to image bounds
	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	if x2-x1 <= 0 || y2-y1 <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: box outside %dx%d frame", ErrInvalidBounds, bounds.Dx(), bounds.Dy())
	}
	return image.Rect(x1, y1, x2, y2), nil
}

// Tensorize bilinearly resizes region of img to size×size and packs it as NHWC
// float32 scaled to [0,1]. channels must be 1 (luminance) or 3 (RGB).
func Tensorize(img image.Image, region image.Rectangle, size, channels int) (*Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if region.Empty() {
		return nil, fmt.Errorf("%w: empty crop region", ErrInvalidBounds)
	}

	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, region, draw.Src, nil)

	t := NewTensor(Shape{1, size, size, channels})
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := resized.PixOffset(x, y)
			r := float32(resized.Pix[i])
			g := float32(resized.Pix[i+1])
			b := float32(resized.Pix[i+2])

			idx := y*size + x
			if channels == 1 {
				t.Data[idx] = (lumaR*r + lumaG*g + lumaB*b) / 255
				continue
			}
			t.Data[idx*3+0] = r / 255
			t.Data[idx*3+1] = g / 255
			t.Data[idx*3+2] = b / 255
		}
	}
	return t, nil
}

// CropImage copies region of img into a new image anchored at the origin.
func CropImage(img image.Image, region image.Rectangle) image.Image {
	crop := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Copy(crop, image.Point{}, img, region, draw.Src, nil)
	return crop
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func isNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
