package vision

import (
	"errors"
	"log/slog"

	"github.com/your-org/faceattr/internal/observability"
)

// MetricsObserver exports stage events to Prometheus.
type MetricsObserver struct{}

func (MetricsObserver) OnStage(ev StageEvent) {
	switch ev.Stage {
	case StageDone:
		observability.AnalysesTotal.WithLabelValues("success").Inc()
	case StageFailed:
		var afe *AnalysisFailedError
		stage := string(StageFailed)
		if errors.As(ev.Err, &afe) {
			stage = string(afe.Stage)
		}
		observability.AnalysesTotal.WithLabelValues(outcome(ev.Err)).Inc()
		observability.AnalysisFailures.WithLabelValues(stage, string(ev.Domain)).Inc()
		return
	case StagePredicted:
		observability.InferenceDuration.WithLabelValues(string(ev.Domain)).Observe(ev.Inference.Seconds())
	}
	observability.StageLatency.WithLabelValues(string(ev.Stage), string(ev.Domain)).Observe(ev.Elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNoFaceDetected):
		return "no_face"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// LogObserver writes stage transitions at debug level and failures at warn.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) OnStage(ev StageEvent) {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	if ev.Stage == StageFailed {
		l.Warn("analysis failed", "domain", ev.Domain, "elapsed", ev.Elapsed.String(), "error", ev.Err)
		return
	}
	l.Debug("analysis stage", "stage", ev.Stage, "domain", ev.Domain, "elapsed", ev.Elapsed.String())
}
