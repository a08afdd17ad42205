package vision

import "time"

// Stage is a state of the analysis pipeline. Per-domain stages carry the
// domain in StageEvent.Domain.
type Stage string

const (
	StageStart      Stage = "start"
	StageCropped    Stage = "cropped"
	StageTensorized Stage = "tensorized"
	StagePredicted  Stage = "predicted"
	StageAggregated Stage = "aggregated"
	StageDone       Stage = "done"
	// StageFailed is emitted once, instead of StageDone, when Analyze fails.
	StageFailed Stage = "failed"
)

// StageEvent reports that an analysis reached a stage.
type StageEvent struct {
	Stage   Stage
	Domain  Domain
	Elapsed time.Duration // since StageStart
	// Inference is the classifier run time, set for StagePredicted.
	Inference time.Duration
	Err       error // set for StageFailed
}

// Observer receives stage events. Domain stages may run concurrently, so
// OnStage must be safe for concurrent use.
type Observer interface {
	OnStage(ev StageEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev StageEvent)

func (f ObserverFunc) OnStage(ev StageEvent) { f(ev) }
