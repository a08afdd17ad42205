package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/your-org/faceattr/internal/analysis"
	"github.com/your-org/faceattr/internal/vision"
	"github.com/your-org/faceattr/pkg/dto"
)

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var boxes []string

	cmd := &cobra.Command{
		Use:   "analyze IMAGE",
		Short: "Analyze the primary face of one image and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			faces, err := parseBoxes(boxes)
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			svc, release, err := newService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()

			out, err := svc.Analyze(cmd.Context(), analysis.Request{
				Frame:  &vision.Frame{URI: args[0], Data: data},
				Faces:  faces,
				Source: filepath.Base(args[0]),
			})
			if err != nil {
				return err
			}

			resp := dto.NewAnalysisResponse(out.Result, nil, "", out.CreatedAt)
			resp.Source = filepath.Base(args[0])
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringArrayVarP(&boxes, "box", "b", nil, "Face box as x,y,width,height in pixels (repeatable; detector runs when omitted)")
	return cmd
}

func parseBoxes(specs []string) ([]vision.FaceBoundingBox, error) {
	faces := make([]vision.FaceBoundingBox, 0, len(specs))
	for _, spec := range specs {
		box, err := parseBox(spec)
		if err != nil {
			return nil, err
		}
		faces = append(faces, box)
	}
	return faces, nil
}

// parseBox parses "x,y,width,height".
func parseBox(spec string) (vision.FaceBoundingBox, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return vision.FaceBoundingBox{}, fmt.Errorf("invalid box %q: want x,y,width,height", spec)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return vision.FaceBoundingBox{}, fmt.Errorf("invalid box %q: %w", spec, err)
		}
		v[i] = f
	}
	if v[2] <= 0 || v[3] <= 0 {
		return vision.FaceBoundingBox{}, fmt.Errorf("invalid box %q: width and height must be positive", spec)
	}
	return vision.FaceBoundingBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
