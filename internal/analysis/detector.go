package analysis

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/your-org/faceattr/internal/config"
	"github.com/your-org/faceattr/internal/rekognition"
	"github.com/your-org/faceattr/internal/vision"
)

// NewDetector builds the configured face detector. It returns a nil detector
// for the "none" provider, in which case callers must supply boxes.
func NewDetector(ctx context.Context, cfg config.DetectionConfig, vcfg config.VisionConfig) (vision.FaceDetector, func(), error) {
	switch cfg.Provider {
	case config.DetectorNone, "":
		return nil, func() {}, nil

	case config.DetectorRetinaFace:
		release, err := vision.InitONNX(vcfg.ONNXLibPath)
		if err != nil {
			return nil, nil, err
		}
		path := cfg.Model
		if !filepath.IsAbs(path) {
			path = filepath.Join(vcfg.ModelsDir, path)
		}
		det, err := vision.NewRetinaFace(path, float32(cfg.Threshold))
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("load retinaface: %w", err)
		}
		return det, func() {
			det.Close()
			release()
		}, nil

	case config.DetectorRekognition:
		det, err := rekognition.New(ctx, cfg.AWSRegion, cfg.Threshold)
		if err != nil {
			return nil, nil, err
		}
		return det, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown detection provider %q", cfg.Provider)
	}
}
