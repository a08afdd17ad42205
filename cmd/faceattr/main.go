// Command faceattr analyzes face attributes of local images and manages the
// history database schema.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/config"
	"github.com/your-org/faceattr/internal/observability"
	"github.com/your-org/faceattr/internal/vision"
)

// Version is the application version.
const Version = "0.1.0"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	backend    string
	detector   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "faceattr",
		Short:         "Estimate age, gender and expression of faces in images",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (FA_* env vars override)")
	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "Classifier backend: onnx or fixture (overrides config)")
	root.PersistentFlags().StringVar(&opts.detector, "detector", "", "Face detector: none, retinaface or rekognition (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newBatchCmd(opts),
		newLabelsCmd(),
		newMigrateCmd(opts),
	)
	return root
}

// loadConfig reads the config file and applies flag overrides. Logs go to
// stderr so stdout stays machine readable.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	slog.SetDefault(observability.NewLogger(cmd.ErrOrStderr(), o.logLevel, "text"))

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.backend != "" {
		cfg.Vision.Backend = o.backend
	}
	if o.detector != "" {
		cfg.Detection.Provider = o.detector
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newService builds an analysis service without persistence.
func newService(ctx context.Context, cfg *config.Config) (*analysis.Service, func(), error) {
	classifiers, releaseModels, err := vision.LoadModels(cfg.Vision)
	if err != nil {
		return nil, nil, err
	}
	detector, releaseDetector, err := analysis.NewDetector(ctx, cfg.Detection, cfg.Vision)
	if err != nil {
		releaseModels()
		return nil, nil, err
	}

	analyzer := vision.NewAnalyzer(classifiers, vision.AnalyzerOptions{
		Sequential:    cfg.Vision.Sequential,
		DomainTimeout: cfg.Vision.DomainTimeout,
		CropPadding:   cfg.Vision.CropPadding,
	}, vision.LogObserver{Logger: slog.Default()})

	svc := analysis.NewService(analyzer, analysis.Options{
		Detector:     detector,
		DetectorName: cfg.Detection.Provider,
	})
	return svc, func() {
		releaseDetector()
		releaseModels()
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
