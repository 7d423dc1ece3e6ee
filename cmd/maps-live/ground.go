package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-maps-live/pkg/config"
	"github.com/vango-go/vai-maps-live/pkg/core/types"
	"github.com/vango-go/vai-maps-live/pkg/grounding"
	"github.com/vango-go/vai-maps-live/pkg/metrics"
)

func newGrounder(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (grounding.Client, error) {
	opts := []grounding.Option{
		grounding.WithBaseURL(cfg.GroundingBaseURL),
		grounding.WithModel(cfg.GroundingModel),
		grounding.WithLogger(logger),
		grounding.WithMetrics(m),
	}
	switch cfg.GroundingBackend {
	case config.GroundingSDK:
		return grounding.NewSDK(ctx, cfg.APIKey, opts...)
	default:
		return grounding.NewREST(cfg.APIKey, opts...), nil
	}
}

type groundOptions struct {
	lat, lng float64
	widget   bool
	asJSON   bool
}

func newGroundCmd(root *rootOptions) *cobra.Command {
	opts := &groundOptions{}
	cmd := &cobra.Command{
		Use:   "ground <query>",
		Short: "Run one grounded Maps query and print the answer and its sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := cfg.RequireAPIKey(); err != nil {
				return err
			}
			client, err := newGrounder(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			req := grounding.Request{
				Prompt:       strings.Join(args, " "),
				EnableWidget: opts.widget,
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				req.Lat, req.Lng = &opts.lat, &opts.lng
			}
			resp, err := client.Ground(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return printGrounded(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "bias results towards this latitude")
	cmd.Flags().Float64Var(&opts.lng, "lng", 0, "bias results towards this longitude")
	cmd.Flags().BoolVar(&opts.widget, "widget", false, "request a Maps widget context token")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the raw grounded response")
	return cmd
}

func printGrounded(w io.Writer, resp *types.GroundedResponse) error {
	if _, err := fmt.Fprintln(w, strings.TrimSpace(resp.Text())); err != nil {
		return err
	}
	if sources := sourceLines(resp.Chunks()); len(sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, s := range sources {
			fmt.Fprintln(w, "  "+s)
		}
	}
	if token := resp.WidgetToken(); token != "" {
		fmt.Fprintf(w, "\nWidget context token: %s\n", token)
	}
	return nil
}

// sourceLines renders one "title - uri" line per chunk with a source.
func sourceLines(chunks []types.GroundingChunk) []string {
	var out []string
	for _, c := range chunks {
		uri, title, ok := c.Source()
		if !ok {
			continue
		}
		if title == uri {
			out = append(out, uri)
			continue
		}
		out = append(out, title+" - "+uri)
	}
	return out
}
