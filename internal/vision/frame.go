package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Landmark is an optional facial keypoint reported by a detector.
type Landmark struct {
	Type string  `json:"type,omitempty"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// FaceBoundingBox is a detected face in source-image pixel coordinates.
type FaceBoundingBox struct {
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Width      float64    `json:"width"`
	Height     float64    `json:"height"`
	Confidence float32    `json:"confidence,omitempty"`
	Landmarks  []Landmark `json:"landmarks,omitempty"`
}

// Area returns width*height, or 0 for degenerate boxes.
func (b FaceBoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Frame is a read-only handle to pixel data. The first non-empty source wins:
// an already decoded Image, then encoded Data, then a file at URI.
type Frame struct {
	URI    string
	Width  int
	Height int
	Data   []byte
	Image  image.Image
}

// FrameFromBytes wraps encoded image bytes (JPEG, PNG, BMP or WebP).
func FrameFromBytes(data []byte) *Frame {
	return &Frame{Data: data}
}

// Decode returns the frame's pixels. Any failure wraps ErrImageDecode.
func (f *Frame) Decode() (image.Image, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrImageDecode)
	}
	if f.Image != nil {
		if f.Image.Bounds().Empty() {
			return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
		}
		return f.Image, nil
	}

	data := f.Data
	if len(data) == 0 && f.URI != "" {
		raw, err := os.ReadFile(strings.TrimPrefix(f.URI, "file://"))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrImageDecode, f.URI, err)
		}
		data = raw
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no pixel data", ErrImageDecode)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
	}
	return img, nil
}
