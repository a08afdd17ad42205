package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/vision"
	"github.com/your-org/faceattr/pkg/dto"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true,
}

// batchLine is one JSON line of batch output.
type batchLine struct {
	File   string                `json:"file"`
	Result *dto.AnalysisResponse `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
	Stage  string                `json:"stage,omitempty"`
	Domain string                `json:"domain,omitempty"`
}

func newBatchCmd(opts *globalOptions) *cobra.Command {
	var (
		workers   int
		recursive bool
		quiet     bool
	)

	cmd := &cobra.Command{
		Use:   "batch DIR",
		Short: "Analyze every image in a directory, writing one JSON line per file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Vision.WorkerCount
			}

			files, err := listImages(args[0], recursive)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no images found in %s", args[0])
			}

			svc, release, err := newService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()

			progress := io.Discard
			if !quiet {
				progress = cmd.ErrOrStderr()
			}
			bar := progressbar.NewOptions(len(files),
				progressbar.OptionSetDescription("analyzing"),
				progressbar.OptionSetWriter(progress),
				progressbar.OptionShowCount(),
			)

			failed, err := runBatch(cmd.Context(), svc, files, workers, cmd.OutOrStdout(), func() { _ = bar.Add(1) })
			_ = bar.Finish()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "\n%d analyzed, %d failed\n", len(files)-failed, failed)
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent analyses (default: vision.worker_count)")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

// listImages returns image files under dir in lexical order.
func listImages(dir string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// runBatch analyzes files with a bounded number of workers and streams one
// line per file to out. Per-file analysis failures are reported in their
// line; only cancellation and write errors abort the batch.
func runBatch(ctx context.Context, svc *analysis.Service, files []string, workers int, out io.Writer, tick func()) (int, error) {
	var (
		mu     sync.Mutex
		failed int
		enc    = json.NewEncoder(out)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, file := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			line := analyzeFile(gctx, svc, file)

			mu.Lock()
			defer mu.Unlock()
			tick()
			if line.Error != "" {
				failed++
			}
			return enc.Encode(line)
		})
	}

	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, ctx.Err()
}

func analyzeFile(ctx context.Context, svc *analysis.Service, file string) batchLine {
	line := batchLine{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		line.Error = err.Error()
		return line
	}

	out, err := svc.Analyze(ctx, analysis.Request{
		Frame:  &vision.Frame{URI: file, Data: data},
		Source: filepath.Base(file),
	})
	if err != nil {
		line.Error = err.Error()
		var afe *vision.AnalysisFailedError
		if errors.As(err, &afe) {
			line.Stage = string(afe.Stage)
			line.Domain = string(afe.Domain)
		}
		return line
	}

	resp := dto.NewAnalysisResponse(out.Result, nil, "", out.CreatedAt)
	resp.Source = filepath.Base(file)
	line.Result = &resp
	return line
}
