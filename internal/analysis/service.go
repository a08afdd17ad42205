// Package analysis runs face attribute analysis on behalf of the API, the
// worker and the CLI: optional face detection, the vision analyzer, and
// persistence of the face snapshot and history entry.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/observability"
	"github.com/your-org/faceattr/internal/vision"
)

// ErrDetection wraps failures of the face detector itself (not "no face").
var ErrDetection = errors.New("face detection failed")

// HistoryStore persists analyses.
type HistoryStore interface {
	SaveAnalysis(ctx context.Context, a *models.Analysis) error
}

// SnapshotStore keeps JPEG face crops.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, id uuid.UUID, jpeg []byte) (string, error)
}

// Options wires the optional collaborators. Nil stores disable the matching
// persistence step.
type Options struct {
	Detector        vision.FaceDetector
	DetectorName    string
	History         HistoryStore
	Snapshots       SnapshotStore
	SnapshotQuality int
}

type Service struct {
	analyzer *vision.Analyzer
	opts     Options
	now      func() time.Time
}

func NewService(analyzer *vision.Analyzer, opts Options) *Service {
	if opts.SnapshotQuality <= 0 || opts.SnapshotQuality > 100 {
		opts.SnapshotQuality = 85
	}
	if opts.DetectorName == "" {
		opts.DetectorName = "none"
	}
	return &Service{analyzer: analyzer, opts: opts, now: time.Now}
}

// Request is one image to analyze. Faces may be empty when a detector is
// configured. Save asks for a snapshot and history entry.
type Request struct {
	Frame  *vision.Frame
	Faces  []vision.FaceBoundingBox
	Source string
	Save   bool
}

// Outcome is a successful analysis. ID is set when Save was requested; Saved
// reports whether the history entry was written.
type Outcome struct {
	ID          uuid.UUID
	Result      *vision.AnalysisResult
	SnapshotKey string
	Saved       bool
	CreatedAt   time.Time
}

// Analyze detects faces when none were supplied, runs the analyzer and, on
// request, stores the face snapshot and history entry. Analysis failures are
// returned as *vision.AnalysisFailedError. Persistence failures are logged and
// leave Saved false.
func (s *Service) Analyze(ctx context.Context, req Request) (*Outcome, error) {
	frame := req.Frame
	img, decodeErr := frame.Decode()
	if decodeErr == nil {
		frame = &vision.Frame{URI: frame.URI, Image: img}
	}

	faces := req.Faces
	if len(faces) == 0 && s.opts.Detector != nil && decodeErr == nil {
		detected, err := s.opts.Detector.Detect(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDetection, err)
		}
		observability.FacesDetected.WithLabelValues(s.opts.DetectorName).Add(float64(len(detected)))
		faces = detected
	}

	result, err := s.analyzer.Analyze(ctx, frame, faces)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Result: result, CreatedAt: s.now()}
	if !req.Save {
		return out, nil
	}
	out.ID = uuid.New()

	if s.opts.Snapshots != nil {
		out.SnapshotKey = s.saveSnapshot(ctx, out.ID, img, result.FaceCoordinates)
	}

	if s.opts.History != nil {
		rec := &models.Analysis{
			ID:          out.ID,
			Source:      req.Source,
			Result:      *result,
			SnapshotKey: out.SnapshotKey,
		}
		if err := s.opts.History.SaveAnalysis(ctx, rec); err != nil {
			slog.Error("save analysis", "id", out.ID, "error", err)
		} else {
			out.Saved = true
			out.CreatedAt = rec.CreatedAt
		}
	}
	return out, nil
}

// saveSnapshot stores the padded face crop and returns its key, or "" when
// the snapshot could not be written.
func (s *Service) saveSnapshot(ctx context.Context, id uuid.UUID, img image.Image, box vision.FaceBoundingBox) string {
	region, err := s.analyzer.Preprocessor().CropRegion(img.Bounds(), box)
	if err != nil {
		slog.Warn("crop snapshot", "id", id, "error", err)
		return ""
	}
	data, err := vision.EncodeJPEG(vision.CropImage(img, region), s.opts.SnapshotQuality)
	if err != nil {
		slog.Warn("encode snapshot", "id", id, "error", err)
		return ""
	}
	key, err := s.opts.Snapshots.PutSnapshot(ctx, id, data)
	if err != nil {
		slog.Warn("save snapshot", "id", id, "error", err)
		return ""
	}
	return key
}

// Record stores the history entry of a worker-produced event. Failed events
// and events that did not ask to be saved are skipped and yield nil.
func (s *Service) Record(ctx context.Context, ev *models.AnalysisEvent) (*models.Analysis, error) {
	if ev.Failed() || !ev.Save || s.opts.History == nil {
		return nil, nil
	}
	rec := &models.Analysis{
		ID:          ev.AnalysisID,
		Source:      ev.Source,
		Result:      *ev.Result,
		SnapshotKey: ev.SnapshotKey,
	}
	if err := s.opts.History.SaveAnalysis(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
