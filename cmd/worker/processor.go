package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/queue"
	"github.com/your-org/faceattr/internal/storage"
	"github.com/your-org/faceattr/internal/vision"
)

type frameStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

type resultPublisher interface {
	PublishResult(ctx context.Context, ev *models.AnalysisEvent) error
}

type taskAnalyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Outcome, error)
}

// processor turns one queued task into one published result event.
type processor struct {
	frames  frameStore
	results resultPublisher
	svc     taskAnalyzer
	now     func() time.Time
}

// Handle analyzes the task's frame. Analysis failures are published as
// failure events and the task is acked; a missing frame is terminal; store,
// queue and shutdown errors are returned for redelivery.
func (p *processor) Handle(ctx context.Context, task *models.AnalyzeTask) error {
	data, err := p.frames.GetObject(ctx, task.FrameKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return queue.Terminal(fmt.Errorf("task %s: %w", task.TaskID, err))
		}
		return fmt.Errorf("load frame %s: %w", task.FrameKey, err)
	}

	out, err := p.svc.Analyze(ctx, analysis.Request{
		Frame:  &vision.Frame{URI: task.FrameKey, Data: data},
		Faces:  task.Faces,
		Source: task.Source,
		Save:   task.Save,
	})

	var ev *models.AnalysisEvent
	switch {
	case err != nil && ctx.Err() != nil:
		// Shutting down; let another worker pick the task up.
		return fmt.Errorf("task %s interrupted: %w", task.TaskID, err)
	case err != nil:
		slog.Warn("analysis failed", "task_id", task.TaskID, "error", err)
		ev = models.NewFailureEvent(task, err, p.now())
	default:
		ev = &models.AnalysisEvent{
			TaskID:      task.TaskID,
			AnalysisID:  out.ID,
			Source:      task.Source,
			FrameKey:    task.FrameKey,
			Save:        task.Save,
			SnapshotKey: out.SnapshotKey,
			Result:      out.Result,
			CompletedAt: p.now(),
		}
	}

	if err := p.results.PublishResult(ctx, ev); err != nil {
		return fmt.Errorf("publish result %s: %w", task.TaskID, err)
	}

	if err := p.frames.DeleteObjects(ctx, []string{task.FrameKey}); err != nil {
		slog.Warn("delete frame", "key", task.FrameKey, "error", err)
	}
	return nil
}
