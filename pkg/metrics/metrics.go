package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a maps-live process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Inbound stream metrics
	EventsTotal        *prometheus.CounterVec
	DroppedFramesTotal *prometheus.CounterVec
	SendsRejectedTotal *prometheus.CounterVec

	// Audio metrics
	AudioBytesTotal *prometheus.CounterVec
	PlaybackFlushes prometheus.Counter

	// Tool metrics
	ToolCallsTotal    *prometheus.CounterVec
	ToolBatchDuration prometheus.Histogram

	// Grounding metrics
	GroundingRequestsTotal   *prometheus.CounterVec
	GroundingRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with all metrics registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "maps_live"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open live sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live session connections by outcome",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events delivered to subscribers by kind",
		},
		[]string{"kind"},
	)

	droppedFramesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		},
		[]string{"code"},
	)

	sendsRejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_rejected_total",
			Help:      "Outbound sends rejected by the session",
		},
		[]string{"reason"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM audio bytes moved through the session",
		},
		[]string{"direction"},
	)

	playbackFlushes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_flushes_total",
			Help:      "Playback queue flushes (interruptions and disconnects)",
		},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls executed by name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	toolBatchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_batch_duration_seconds",
			Help:      "Time from tool-call batch arrival to result batch send",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	groundingRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grounding_requests_total",
			Help:      "Grounded search requests by backend and status",
		},
		[]string{"backend", "status"},
	)

	groundingRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grounding_request_duration_seconds",
			Help:      "Grounded search request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		eventsTotal,
		droppedFramesTotal,
		sendsRejectedTotal,
		audioBytesTotal,
		playbackFlushes,
		toolCallsTotal,
		toolBatchDuration,
		groundingRequestsTotal,
		groundingRequestDuration,
	)

	return &Metrics{
		registry:                 registry,
		SessionsActive:           sessionsActive,
		SessionsTotal:            sessionsTotal,
		SessionDuration:          sessionDuration,
		EventsTotal:              eventsTotal,
		DroppedFramesTotal:       droppedFramesTotal,
		SendsRejectedTotal:       sendsRejectedTotal,
		AudioBytesTotal:          audioBytesTotal,
		PlaybackFlushes:          playbackFlushes,
		ToolCallsTotal:           toolCallsTotal,
		ToolBatchDuration:        toolBatchDuration,
		GroundingRequestsTotal:   groundingRequestsTotal,
		GroundingRequestDuration: groundingRequestDuration,
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionOpen records a transport that reached Open.
func (m *Metrics) RecordSessionOpen() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session that was open and has now closed.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordConnectFailure records a connect attempt that never opened.
func (m *Metrics) RecordConnectFailure() {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues("connect_failed").Inc()
}

// RecordEvent records one delivered inbound event.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordDroppedFrame records an inbound frame that was logged and dropped.
func (m *Metrics) RecordDroppedFrame(code string) {
	if m == nil {
		return
	}
	m.DroppedFramesTotal.WithLabelValues(code).Inc()
}

// RecordSendRejected records a send the session refused.
func (m *Metrics) RecordSendRejected(reason string) {
	if m == nil {
		return
	}
	m.SendsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordAudio records PCM bytes; direction is "in" (model to speaker) or "out" (mic to model).
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordPlaybackFlush records a playback flush.
func (m *Metrics) RecordPlaybackFlush() {
	if m == nil {
		return
	}
	m.PlaybackFlushes.Inc()
}

// RecordToolCall records one executed call.
func (m *Metrics) RecordToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordToolBatch records a completed batch.
func (m *Metrics) RecordToolBatch(duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolBatchDuration.Observe(duration.Seconds())
}

// RecordGrounding records a grounded search request.
func (m *Metrics) RecordGrounding(backend, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GroundingRequestsTotal.WithLabelValues(backend, status).Inc()
	m.GroundingRequestDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// Router serves /metrics and a /healthz liveness check.
func (m *Metrics) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// Serve exposes Router on addr under /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
