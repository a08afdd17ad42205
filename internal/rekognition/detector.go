package rekognition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"

	"github.com/your-org/faceattr/internal/vision"
)

// maxImageSize is the largest inline image Rekognition accepts (5MB).
const maxImageSize = 5 * 1024 * 1024

// API is the part of the Rekognition client the detector calls.
type API interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// Detector finds faces with AWS Rekognition DetectFaces. Boxes come back as
// ratios of the image size and are converted to pixels.
type Detector struct {
	api           API
	minConfidence float32
}

var _ vision.FaceDetector = (*Detector)(nil)

// New builds a detector using the default AWS credential chain.
// minConfidence is in [0,1].
func New(ctx context.Context, region string, minConfidence float64) (*Detector, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewWithAPI(rekognition.NewFromConfig(awsCfg), minConfidence), nil
}

func NewWithAPI(api API, minConfidence float64) *Detector {
	return &Detector{api: api, minConfidence: float32(minConfidence)}
}

func (d *Detector) Detect(ctx context.Context, frame *vision.Frame) ([]vision.FaceBoundingBox, error) {
	img, err := frame.Decode()
	if err != nil {
		return nil, err
	}
	payload, err := imageBytes(frame, img)
	if err != nil {
		return nil, err
	}

	out, err := d.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: payload},
		Attributes: []types.Attribute{types.AttributeDefault},
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", mapError(err))
	}

	w := float64(img.Bounds().Dx())
	h := float64(img.Bounds().Dy())

	boxes := make([]vision.FaceBoundingBox, 0, len(out.FaceDetails))
	for _, detail := range out.FaceDetails {
		if detail.BoundingBox == nil {
			continue
		}
		conf := deref(detail.Confidence) / 100
		if conf < d.minConfidence {
			continue
		}

		box := vision.FaceBoundingBox{
			X:          float64(deref(detail.BoundingBox.Left)) * w,
			Y:          float64(deref(detail.BoundingBox.Top)) * h,
			Width:      float64(deref(detail.BoundingBox.Width)) * w,
			Height:     float64(deref(detail.BoundingBox.Height)) * h,
			Confidence: conf,
		}
		for _, lm := range detail.Landmarks {
			box.Landmarks = append(box.Landmarks, vision.Landmark{
				Type: string(lm.Type),
				X:    float64(deref(lm.X)) * w,
				Y:    float64(deref(lm.Y)) * h,
			})
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// imageBytes reuses the encoded frame when Rekognition can read it as is and
// re-encodes to JPEG otherwise.
func imageBytes(frame *vision.Frame, img image.Image) ([]byte, error) {
	if len(frame.Data) > 0 && len(frame.Data) <= maxImageSize {
		if _, format, err := image.DecodeConfig(bytes.NewReader(frame.Data)); err == nil && (format == "jpeg" || format == "png") {
			return frame.Data, nil
		}
	}
	data, err := vision.EncodeJPEG(img, 90)
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidImage, len(data), maxImageSize)
	}
	return data, nil
}

func mapError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case errCodeAccessDenied, errCodeUnrecognizedClient:
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	case errCodeInvalidParameter, errCodeInvalidImageFormat, errCodeImageTooLarge:
		return fmt.Errorf("%w: %w", ErrInvalidImage, err)
	case errCodeThrottling, errCodeThroughputExceeded:
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	default:
		return err
	}
}

func deref(p *float32) float32 {
	if p == nil {
		return 0
	}
	return *p
}
