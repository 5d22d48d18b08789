package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/services"
	"tilecast/pkg/validation"
)

type resolveOpts struct {
	layoutPath    string
	viewportsPath string
	wide          bool
}

// newResolveCmd resolves a layout file against a viewport file offline, the
// same way the server does for a session.
func newResolveCmd() *cobra.Command {
	var opts resolveOpts

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a logical layout against a viewport list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := readLayout(opts.layoutPath)
			if err != nil {
				return err
			}
			viewports, err := readViewports(opts.viewportsPath)
			if err != nil {
				return err
			}

			visual := services.Resolve(layout, viewports, opts.wide)
			return writeJSON(cmd, visual)
		},
	}

	cmd.Flags().StringVar(&opts.layoutPath, "layout", "", "logical layout JSON file")
	cmd.Flags().StringVar(&opts.viewportsPath, "viewports", "", "viewport list JSON file")
	cmd.Flags().BoolVar(&opts.wide, "wide", false, "resolve for a wide window")
	_ = cmd.MarkFlagRequired("layout")
	_ = cmd.MarkFlagRequired("viewports")
	return cmd
}

func readLayout(path string) (domain.LogicalLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	layout, err := domain.DecodeLayout(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return layout, nil
}

// readViewports accepts either a bare array or an object with a viewports
// field, as pushed by clients over the websocket.
func readViewports(path string) ([]domain.Viewport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read viewports: %w", err)
	}

	var viewports []domain.Viewport
	if err := json.Unmarshal(data, &viewports); err != nil {
		var wrapped struct {
			Viewports []domain.Viewport `json:"viewports"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		viewports = wrapped.Viewports
	}

	if err := validation.ValidateViewportCount(len(viewports)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return viewports, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
