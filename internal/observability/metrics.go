package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattr",
		Name:      "analyses_total",
		Help:      "Total number of face analyses by outcome",
	}, []string{"outcome"})

	AnalysisFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattr",
		Name:      "analysis_failures_total",
		Help:      "Failed analyses by stage and domain",
	}, []string{"stage", "domain"})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceattr",
		Name:      "stage_latency_seconds",
		Help:      "Time from analysis start until a pipeline stage is reached",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage", "domain"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceattr",
		Name:      "inference_duration_seconds",
		Help:      "Duration of per-domain model inference",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"domain"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattr",
		Name:      "faces_detected_total",
		Help:      "Total number of faces found by the detector",
	}, []string{"provider"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceattr",
		Name:      "queue_depth",
		Help:      "Number of analysis tasks waiting in the ANALYZE stream",
	})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceattr",
		Name:      "tasks_in_flight",
		Help:      "Number of analysis tasks currently being processed by the worker",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceattr",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceattr",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
