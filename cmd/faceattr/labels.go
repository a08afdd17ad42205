package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/your-org/faceattr/internal/vision"
	"github.com/your-org/faceattr/pkg/dto"
)

func newLabelsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "labels",
		Short: "List the label set of every classification domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if asJSON {
				resp := dto.LabelsResponse{Domains: map[string][]string{}}
				for _, d := range vision.Domains {
					resp.Domains[string(d)] = d.Labels()
				}
				return json.NewEncoder(out).Encode(resp)
			}
			for _, d := range vision.Domains {
				shape := d.InputShape()
				fmt.Fprintf(out, "%-10s %-14s %s\n", d, shape.String(), strings.Join(d.Labels(), ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
