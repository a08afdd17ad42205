package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/config"
	"github.com/your-org/faceattr/internal/observability"
	"github.com/your-org/faceattr/internal/queue"
	"github.com/your-org/faceattr/internal/storage"
	"github.com/your-org/faceattr/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, FA_* env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceattr worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
		"backend", cfg.Vision.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	classifiers, releaseModels, err := vision.LoadModels(cfg.Vision)
	if err != nil {
		slog.Error("load classifiers", "error", err)
		os.Exit(1)
	}
	defer releaseModels()

	detector, releaseDetector, err := analysis.NewDetector(ctx, cfg.Detection, cfg.Vision)
	if err != nil {
		slog.Error("init face detector", "provider", cfg.Detection.Provider, "error", err)
		os.Exit(1)
	}
	defer releaseDetector()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	analyzer := vision.NewAnalyzer(classifiers, vision.AnalyzerOptions{
		Sequential:    cfg.Vision.Sequential,
		DomainTimeout: cfg.Vision.DomainTimeout,
		CropPadding:   cfg.Vision.CropPadding,
	}, vision.MetricsObserver{}, vision.LogObserver{Logger: slog.Default()})

	// History rows are written by the API when it consumes the result.
	svc := analysis.NewService(analyzer, analysis.Options{
		Detector:        detector,
		DetectorName:    cfg.Detection.Provider,
		Snapshots:       minioStore,
		SnapshotQuality: cfg.Vision.SnapshotQuality,
	})

	proc := &processor{frames: minioStore, results: producer, svc: svc, now: time.Now}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeTasks(ctx, "analysis-workers", proc.Handle, cfg.Vision.WorkerCount); err != nil {
		slog.Error("start task consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
