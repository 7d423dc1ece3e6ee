// Command maps-live is a voice itinerary planner: it talks to a live model
// over a websocket, answers its map tool calls and grounds places through
// Google Maps.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-maps-live/internal/dotenv"
	"github.com/vango-go/vai-maps-live/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel string
	logJSON  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "maps-live",
		Short:        "Plan an afternoon by voice with a live model and Google Maps grounding",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := dotenv.LoadDefault(); err != nil {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug|info|warn|error (default MAPS_LIVE_LOG_LEVEL or info)")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")

	root.AddCommand(
		newRunCmd(opts),
		newGroundCmd(opts),
		newVoicesCmd(),
		newLookAtCmd(opts),
	)
	return root
}

// setup loads the environment config and installs the process logger.
func (o *rootOptions) setup(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	if lvl := strings.TrimSpace(o.logLevel); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}
	logger, err := newLogger(stderr, cfg.LogLevel, o.logJSON)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}
