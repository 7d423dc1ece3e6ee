package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/vango-go/vai-maps-live/pkg/agent"
	"github.com/vango-go/vai-maps-live/pkg/archive"
	"github.com/vango-go/vai-maps-live/pkg/audio"
	"github.com/vango-go/vai-maps-live/pkg/config"
	"github.com/vango-go/vai-maps-live/pkg/live"
	"github.com/vango-go/vai-maps-live/pkg/mapview"
	"github.com/vango-go/vai-maps-live/pkg/metrics"
	"github.com/vango-go/vai-maps-live/pkg/tools"
	"github.com/vango-go/vai-maps-live/pkg/transcript"
)

type runOptions struct {
	textOnly  bool
	noSpeaker bool
	export    bool
	lat, lng  float64
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a voice conversation with the itinerary agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := cfg.RequireAPIKey(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cmd.Flags().Changed("lat") != cmd.Flags().Changed("lng") {
				return errors.New("--lat and --lng must be given together")
			}
			share := cmd.Flags().Changed("lat")
			return runConversation(ctx, cfg, logger, opts, share, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.textOnly, "text", false, "do not open the microphone")
	cmd.Flags().BoolVar(&opts.noSpeaker, "no-speaker", false, "do not play the model's voice")
	cmd.Flags().BoolVar(&opts.export, "export", false, "write the transcript to MAPS_LIVE_EXPORT_DIR on exit")
	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "share this latitude once connected")
	cmd.Flags().Float64Var(&opts.lng, "lng", 0, "share this longitude once connected")
	return cmd
}

func runConversation(ctx context.Context, cfg config.Config, logger *slog.Logger, opts *runOptions, shareLocation bool, in io.Reader, out io.Writer) error {
	startedAt := time.Now()

	settings := config.Settings{}
	if cfg.SettingsFile != "" {
		s, err := config.LoadSettings(cfg.SettingsFile)
		if err != nil {
			return err
		}
		settings = s
	}
	store := config.NewStore(settings.Overlay(cfg))

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New("maps_live")
	}

	session := live.New(live.Options{
		Endpoint:       cfg.Endpoint,
		APIKey:         cfg.APIKey,
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		PingInterval:   cfg.PingInterval,
		SendBuffer:     cfg.SendBuffer,
		Logger:         logger,
		Metrics:        m,
	})

	var playback *audio.Playback
	if !opts.noSpeaker {
		playback = audio.NewPlayback(audio.PlaybackConfig{Logger: logger, Metrics: m})
		speaker, err := audio.OpenSpeaker(playback, 0)
		if err != nil {
			logger.Warn("speaker unavailable; continuing without audio output", "error", err)
			playback = nil
		} else {
			defer speaker.Close()
		}
	}

	var capture *audio.Capture
	if !opts.textOnly {
		input, err := audio.NewMalgoInput(logger)
		if err != nil {
			logger.Warn("microphone backend unavailable; continuing text only", "error", err)
		} else {
			defer input.Close()
			capture = audio.NewCapture(audio.CaptureConfig{Open: input.Open, Logger: logger})
		}
	}

	grounder, err := newGrounder(ctx, cfg, logger, m)
	if err != nil {
		return err
	}

	surface := mapview.NewLoggingSurface(logger)
	var framer *mapview.Framer
	if cfg.MapsAPIKey != "" {
		framer = &mapview.Framer{
			Surface:  surface,
			Resolver: &mapview.PlacesAPI{APIKey: cfg.MapsAPIKey},
			Elevator: &mapview.ElevationAPI{APIKey: cfg.MapsAPIKey},
			Logger:   logger,
		}
	}

	tr := transcript.New()
	itinerary := &tools.Itinerary{
		Surface:      surface,
		Grounder:     grounder,
		Holder:       tr,
		EnableWidget: cfg.GroundingWidget,
	}
	registry, err := tools.NewRegistry(itinerary.Tools()...)
	if err != nil {
		return err
	}

	a, err := agent.New(agent.Options{
		Session:         session,
		Registry:        registry,
		Transcript:      tr,
		Settings:        store,
		Capture:         capture,
		Playback:        playback,
		Framer:          framer,
		ConcurrentTools: cfg.ConcurrentTools,
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		return err
	}
	itinerary.OnGrounded = a.OnGrounded

	p := newPrinter(out, newTurnStyles(isTerminal(out)), func() bool {
		if show := store.Get().ShowSystem; show != nil {
			return *show
		}
		return true
	})
	tr.OnChange(p.onChange)

	g, gctx := errgroup.WithContext(ctx)
	if m != nil {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr, logger) })
	}
	if cfg.SettingsFile != "" {
		g.Go(func() error { return config.WatchSettings(gctx, cfg.SettingsFile, cfg, store, logger) })
	}

	p.println(consoleHelp)
	if err := a.Connect(gctx); err != nil {
		logger.Error("connect failed", "error", err)
	} else if shareLocation {
		go func() {
			select {
			case <-session.Ready():
				_ = a.SendLocation(opts.lat, opts.lng)
			case <-gctx.Done():
			}
		}()
	}

	g.Go(func() error {
		err := console(gctx, a, cfg, p, in)
		// Quitting ends the run; the other goroutines follow gctx.
		if err == nil {
			err = errQuit
		}
		return err
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		err = nil
	}
	if cerr := a.Close(); cerr != nil {
		logger.Debug("closing agent", "error", cerr)
	}

	if opts.export {
		if path, xerr := a.Export(cfg.ExportDir); xerr != nil {
			logger.Error("export failed", "error", xerr)
		} else {
			p.println("Transcript written to " + path)
		}
	}
	if cfg.DatabaseURL != "" {
		if aerr := archiveRun(context.Background(), cfg, logger, a, startedAt); aerr != nil {
			logger.Error("archiving transcript failed", "error", aerr)
		}
	}
	return err
}

var errQuit = errors.New("quit")

// console reads commands until quit, EOF or ctx is done.
func console(ctx context.Context, a *agent.Agent, cfg config.Config, p *printer, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		c, err := parseCommand(line)
		if errors.Is(err, errEmptyLine) {
			continue
		}
		if err != nil {
			p.println(err.Error())
			continue
		}
		switch c.kind {
		case cmdChat:
			_ = a.SendChat(c.text)
		case cmdLocation:
			_ = a.SendLocation(c.lat, c.lng)
		case cmdMute:
			if err := a.SetMuted(true); err != nil {
				p.println("mute: " + err.Error())
			}
		case cmdUnmute:
			if err := a.SetMuted(false); err != nil {
				p.println("unmute: " + err.Error())
			}
		case cmdSpeaker:
			a.SetSpeakerMuted(!c.on)
		case cmdConnect:
			_ = a.Connect(ctx)
		case cmdDisconnect:
			if err := a.Disconnect(); err != nil {
				p.println("disconnect: " + err.Error())
			}
		case cmdExport:
			path, err := a.Export(cfg.ExportDir)
			if err != nil {
				p.println("export: " + err.Error())
				continue
			}
			p.println("Transcript written to " + path)
		case cmdHelp:
			p.println(consoleHelp)
		case cmdQuit:
			return nil
		}
	}
}

func archiveRun(ctx context.Context, cfg config.Config, logger *slog.Logger, a *agent.Agent, startedAt time.Time) error {
	turns := a.Transcript().Turns()
	if len(turns) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := archive.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if at := a.ConnectedAt(); !at.IsZero() {
		startedAt = at
	}
	exp := a.ExportConfig()
	sess := archive.Session{
		ID:        uuid.New(),
		Model:     exp.Model,
		Voice:     exp.Voice,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		Turns:     turns,
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		return err
	}
	logger.Info("transcript archived", "session_id", sess.ID, "turns", len(turns))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
