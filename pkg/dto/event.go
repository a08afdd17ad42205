package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/vision"
)

type PredictionResponse struct {
	Label      string         `json:"label"`
	Confidence float32        `json:"confidence"`
	Scores     []vision.Score `json:"scores,omitempty"`
}

// AnalysisResponse is returned by POST /v1/analyze and the history endpoints.
type AnalysisResponse struct {
	ID               *uuid.UUID             `json:"id,omitempty"`
	Source           string                 `json:"source,omitempty"`
	Age              PredictionResponse     `json:"age"`
	Gender           PredictionResponse     `json:"gender"`
	Expression       PredictionResponse     `json:"expression"`
	ProcessingTimeMs float64                `json:"processing_time_ms"`
	FaceCoordinates  vision.FaceBoundingBox `json:"face_coordinates"`
	FacesDetected    int                    `json:"faces_detected"`
	Saved            bool                   `json:"saved"`
	SnapshotURL      string                 `json:"snapshot_url,omitempty"`
	CreatedAt        string                 `json:"created_at,omitempty"`
}

func prediction(p vision.Prediction) PredictionResponse {
	return PredictionResponse{Label: p.Label, Confidence: p.Confidence, Scores: p.Scores}
}

// NewAnalysisResponse renders a result. id is nil for unsaved analyses.
func NewAnalysisResponse(r *vision.AnalysisResult, id *uuid.UUID, snapshotKey string, createdAt time.Time) AnalysisResponse {
	resp := AnalysisResponse{
		ID:               id,
		Age:              prediction(r.Age),
		Gender:           prediction(r.Gender),
		Expression:       prediction(r.Expression),
		ProcessingTimeMs: r.ProcessingTimeMs,
		FaceCoordinates:  r.FaceCoordinates,
		FacesDetected:    r.FacesDetected,
	}
	if !createdAt.IsZero() {
		resp.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	}
	if id != nil && snapshotKey != "" {
		resp.SnapshotURL = SnapshotURL(*id)
	}
	return resp
}

// FromAnalysis renders a history entry.
func FromAnalysis(a *models.Analysis) AnalysisResponse {
	id := a.ID
	resp := NewAnalysisResponse(&a.Result, &id, a.SnapshotKey, a.CreatedAt)
	resp.Source = a.Source
	resp.Saved = true
	return resp
}

func SnapshotURL(id uuid.UUID) string {
	return "/v1/history/" + id.String() + "/snapshot"
}

type HistoryListResponse struct {
	Analyses []AnalysisResponse `json:"analyses"`
	Total    int                `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

type SimilarAnalysisResponse struct {
	AnalysisResponse
	Similarity float32 `json:"similarity"`
}

type SimilarResponse struct {
	ID      uuid.UUID                 `json:"id"`
	Matches []SimilarAnalysisResponse `json:"matches"`
}

type ClearResponse struct {
	Deleted int `json:"deleted"`
}

type StatsResponse struct {
	Total           int64                       `json:"total"`
	AvgProcessingMs float64                     `json:"avg_processing_ms"`
	LabelCounts     map[string]map[string]int64 `json:"label_counts"`
	LastAnalysisAt  string                      `json:"last_analysis_at,omitempty"`
}

func FromStats(s *models.AnalysisStats) StatsResponse {
	resp := StatsResponse{
		Total:           s.Total,
		AvgProcessingMs: s.AvgProcessingMs,
		LabelCounts:     s.LabelCounts,
	}
	if s.LastAnalysisAt != nil {
		resp.LastAnalysisAt = s.LastAnalysisAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// TaskResponse acknowledges a queued analysis; the outcome arrives over ws.
type TaskResponse struct {
	TaskID   uuid.UUID `json:"task_id"`
	FrameKey string    `json:"frame_key"`
	Status   string    `json:"status"`
}

type LabelsResponse struct {
	Domains map[string][]string `json:"domains"`
}

// WS event types.
const (
	WSAnalysisCompleted = "analysis_completed"
	WSAnalysisFailed    = "analysis_failed"
	WSHistoryDeleted    = "history_deleted"
	WSHistoryCleared    = "history_cleared"
)

// WSEvent is a WebSocket message for real-time analysis delivery.
type WSEvent struct {
	Type     string            `json:"type"`
	Source   string            `json:"source,omitempty"`
	TaskID   *uuid.UUID        `json:"task_id,omitempty"`
	Analysis *AnalysisResponse `json:"analysis,omitempty"`
	Error    string            `json:"error,omitempty"`
	Stage    string            `json:"stage,omitempty"`
	Domain   string            `json:"domain,omitempty"`
	ID       *uuid.UUID        `json:"id,omitempty"`
}

// FromEvent renders a worker result event.
func FromEvent(ev *models.AnalysisEvent, saved bool) *WSEvent {
	taskID := ev.TaskID
	out := &WSEvent{Source: ev.Source, TaskID: &taskID}
	if ev.Failed() {
		out.Type = WSAnalysisFailed
		out.Error = ev.Error
		out.Stage = ev.FailedStage
		out.Domain = ev.FailedDomain
		return out
	}

	var id *uuid.UUID
	if saved {
		aid := ev.AnalysisID
		id = &aid
	}
	resp := NewAnalysisResponse(ev.Result, id, ev.SnapshotKey, ev.CompletedAt)
	resp.Source = ev.Source
	resp.Saved = saved
	out.Type = WSAnalysisCompleted
	out.Analysis = &resp
	return out
}
