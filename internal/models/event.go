package models

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattr/internal/vision"
)

// AnalyzeTask is the message published to NATS for worker processing.
type AnalyzeTask struct {
	TaskID      uuid.UUID                `json:"task_id"`
	FrameKey    string                   `json:"frame_key"` // MinIO object key
	Source      string                   `json:"source,omitempty"`
	Faces       []vision.FaceBoundingBox `json:"faces,omitempty"`
	Save        bool                     `json:"save"`
	SubmittedAt time.Time                `json:"submitted_at"`
}

// AnalysisEvent is the outcome of one task, published by the worker.
// Exactly one of Result and Error is set.
type AnalysisEvent struct {
	TaskID       uuid.UUID              `json:"task_id"`
	AnalysisID   uuid.UUID              `json:"analysis_id"`
	Source       string                 `json:"source,omitempty"`
	FrameKey     string                 `json:"frame_key"`
	Save         bool                   `json:"save"`
	SnapshotKey  string                 `json:"snapshot_key,omitempty"`
	Result       *vision.AnalysisResult `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	FailedStage  string                 `json:"failed_stage,omitempty"`
	FailedDomain string                 `json:"failed_domain,omitempty"`
	CompletedAt  time.Time              `json:"completed_at"`
}

// Failed reports whether the analysis did not produce a result.
func (e *AnalysisEvent) Failed() bool {
	return e.Result == nil
}

// NewFailureEvent fills the error fields of an event from an analysis error.
func NewFailureEvent(task *AnalyzeTask, err error, now time.Time) *AnalysisEvent {
	ev := &AnalysisEvent{
		TaskID:      task.TaskID,
		Source:      task.Source,
		FrameKey:    task.FrameKey,
		Save:        task.Save,
		Error:       err.Error(),
		CompletedAt: now,
	}
	var afe *vision.AnalysisFailedError
	if errors.As(err, &afe) {
		ev.FailedStage = string(afe.Stage)
		ev.FailedDomain = string(afe.Domain)
	}
	return ev
}
