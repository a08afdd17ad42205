package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/api"
	"github.com/your-org/faceattr/internal/api/handlers"
	"github.com/your-org/faceattr/internal/api/ws"
	"github.com/your-org/faceattr/internal/config"
	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/observability"
	"github.com/your-org/faceattr/internal/queue"
	"github.com/your-org/faceattr/internal/storage"
	"github.com/your-org/faceattr/internal/vision"
	"github.com/your-org/faceattr/pkg/dto"
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
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting faceattr API service", "port", cfg.Server.Port, "backend", cfg.Vision.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Classifiers and detector
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

	analyzer := vision.NewAnalyzer(classifiers, vision.AnalyzerOptions{
		Sequential:    cfg.Vision.Sequential,
		DomainTimeout: cfg.Vision.DomainTimeout,
		CropPadding:   cfg.Vision.CropPadding,
	}, vision.MetricsObserver{}, vision.LogObserver{Logger: slog.Default()})

	checks := map[string]handlers.Check{
		"models": func(context.Context) error { return classifiers.Ready() },
	}
	opts := analysis.Options{
		Detector:        detector,
		DetectorName:    cfg.Detection.Provider,
		SnapshotQuality: cfg.Vision.SnapshotQuality,
	}
	hub := ws.NewHub()
	routerCfg := api.RouterConfig{
		APIKeys:        cfg.Server.APIKeys,
		Hub:            hub,
		Checks:         checks,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		DefaultLimit:   cfg.History.DefaultLimit,
		MaxLimit:       cfg.History.MaxLimit,
	}

	// Postgres (history)
	if cfg.Database.Enabled() && !cfg.History.Disabled {
		if !cfg.Database.SkipMigrations {
			if err := storage.Migrate(cfg.Database); err != nil {
				slog.Error("migrate database", "error", err)
				os.Exit(1)
			}
		}
		db, err := storage.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		opts.History = db
		routerCfg.History = db
		checks["postgres"] = db.Ping
	} else {
		slog.Warn("history disabled, analyses will not be persisted")
	}

	// MinIO (snapshots and queued frames)
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		opts.Snapshots = minioStore
		routerCfg.Snapshots = minioStore
		routerCfg.Frames = minioStore
		checks["minio"] = minioStore.Ping
	}

	svc := analysis.NewService(analyzer, opts)
	routerCfg.Analyzer = svc

	go hub.Run(ctx)

	// NATS (task submission and worker results)
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		routerCfg.Tasks = producer
		checks["nats"] = func(context.Context) error { return producer.Ping() }

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create result consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		if err := consumer.ConsumeResults(ctx, "api-results", recordResult(svc, hub)); err != nil {
			slog.Warn("start result consumer", "error", err)
		}
	}

	router := api.NewRouter(routerCfg)

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

// recordResult persists worker results that asked to be saved and pushes
// every result to websocket clients. Store failures are redelivered.
func recordResult(svc *analysis.Service, hub *ws.Hub) queue.ResultHandler {
	return func(ctx context.Context, ev *models.AnalysisEvent) error {
		rec, err := svc.Record(ctx, ev)
		if err != nil {
			return fmt.Errorf("record analysis %s: %w", ev.AnalysisID, err)
		}
		hub.BroadcastEvent(dto.FromEvent(ev, rec != nil))
		return nil
	}
}
