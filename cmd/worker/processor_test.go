package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/queue"
	"github.com/your-org/faceattr/internal/storage"
	"github.com/your-org/faceattr/internal/vision"
)

type memFrames struct {
	objects map[string][]byte
	deleted []string
	err     error
}

func (f *memFrames) GetObject(_ context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (f *memFrames) DeleteObjects(_ context.Context, keys []string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

type memResults struct {
	events []*models.AnalysisEvent
	err    error
}

func (r *memResults) PublishResult(_ context.Context, ev *models.AnalysisEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

type stubAnalyzer struct {
	req analysis.Request
	out *analysis.Outcome
	err error
}

func (s *stubAnalyzer) Analyze(_ context.Context, req analysis.Request) (*analysis.Outcome, error) {
	s.req = req
	return s.out, s.err
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newProcessor(svc taskAnalyzer) (*processor, *memFrames, *memResults) {
	frames := &memFrames{objects: map[string][]byte{"frames/a.png": []byte("png")}}
	results := &memResults{}
	return &processor{frames: frames, results: results, svc: svc, now: func() time.Time { return fixedNow }}, frames, results
}

func newTask() *models.AnalyzeTask {
	return &models.AnalyzeTask{
		TaskID:   uuid.New(),
		FrameKey: "frames/a.png",
		Source:   "cam",
		Faces:    []vision.FaceBoundingBox{{X: 1, Y: 1, Width: 10, Height: 10}},
		Save:     true,
	}
}

func TestProcessorSuccess(t *testing.T) {
	id := uuid.New()
	result := &vision.AnalysisResult{Age: vision.Prediction{Label: "21-30"}}
	svc := &stubAnalyzer{out: &analysis.Outcome{ID: id, Result: result, SnapshotKey: "snapshots/x.jpg"}}
	p, frames, results := newProcessor(svc)
	task := newTask()

	require.NoError(t, p.Handle(context.Background(), task))

	assert.Equal(t, []byte("png"), svc.req.Frame.Data)
	assert.Equal(t, task.Faces, svc.req.Faces)
	assert.True(t, svc.req.Save)

	require.Len(t, results.events, 1)
	ev := results.events[0]
	assert.False(t, ev.Failed())
	assert.Equal(t, task.TaskID, ev.TaskID)
	assert.Equal(t, id, ev.AnalysisID)
	assert.Equal(t, "snapshots/x.jpg", ev.SnapshotKey)
	assert.Equal(t, fixedNow, ev.CompletedAt)
	assert.Equal(t, []string{"frames/a.png"}, frames.deleted)
}

func TestProcessorAnalysisFailureIsReported(t *testing.T) {
	failure := &vision.AnalysisFailedError{Domain: vision.DomainAge, Stage: vision.StageTensorized, Err: vision.ErrModelNotLoaded}
	p, _, results := newProcessor(&stubAnalyzer{err: failure})

	require.NoError(t, p.Handle(context.Background(), newTask()))

	require.Len(t, results.events, 1)
	ev := results.events[0]
	assert.True(t, ev.Failed())
	assert.Equal(t, "age", ev.FailedDomain)
	assert.Equal(t, "tensorized", ev.FailedStage)
}

func TestProcessorMissingFrameIsTerminal(t *testing.T) {
	p, _, results := newProcessor(&stubAnalyzer{})
	task := newTask()
	task.FrameKey = "frames/gone.png"

	err := p.Handle(context.Background(), task)
	assert.ErrorIs(t, err, queue.ErrTerminal)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.Empty(t, results.events)
}

func TestProcessorRetriesInfrastructureErrors(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		p, frames, _ := newProcessor(&stubAnalyzer{})
		frames.err = errors.New("minio down")

		err := p.Handle(context.Background(), newTask())
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrTerminal)
	})

	t.Run("publish", func(t *testing.T) {
		p, frames, results := newProcessor(&stubAnalyzer{out: &analysis.Outcome{Result: &vision.AnalysisResult{}}})
		results.err = errors.New("nats down")

		err := p.Handle(context.Background(), newTask())
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrTerminal)
		assert.Empty(t, frames.deleted, "frame is kept for the retry")
	})

	t.Run("shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		failure := &vision.AnalysisFailedError{Stage: vision.StageStart, Err: errors.Join(vision.ErrCancelled, context.Canceled)}
		p, _, results := newProcessor(&stubAnalyzer{err: failure})

		err := p.Handle(ctx, newTask())
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrTerminal)
		assert.Empty(t, results.events)
	})
}
