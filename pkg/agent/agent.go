// Package agent runs one voice itinerary conversation: it connects the live
// session to the microphone, the speaker, the tool dispatcher, the transcript
// and the map.
package agent

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-maps-live/pkg/audio"
	"github.com/vango-go/vai-maps-live/pkg/config"
	"github.com/vango-go/vai-maps-live/pkg/core/types"
	"github.com/vango-go/vai-maps-live/pkg/live"
	"github.com/vango-go/vai-maps-live/pkg/live/protocol"
	"github.com/vango-go/vai-maps-live/pkg/mapview"
	"github.com/vango-go/vai-maps-live/pkg/metrics"
	"github.com/vango-go/vai-maps-live/pkg/tools"
	"github.com/vango-go/vai-maps-live/pkg/transcript"
)

//go:embed itinerary_prompt.md
var SystemInstructions string

// Greeting is sent once the server accepted the setup.
const Greeting = "hello"

var ErrNotConnected = errors.New("agent: not connected")

// SettingsSource supplies the preferences used for the next connection.
type SettingsSource interface {
	Get() config.Settings
}

type Options struct {
	Session    *live.Session
	Registry   *tools.Registry
	Transcript *transcript.Transcript
	Settings   SettingsSource

	// Optional pipelines; a nil Capture means text-only input and a nil
	// Playback discards model audio.
	Capture  *audio.Capture
	Playback *audio.Playback

	// Framer frames places from grounded answers on the map.
	Framer *mapview.Framer

	ConcurrentTools bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Agent owns the wiring for one run. Event handlers registered on the
// session run on its read loop and never block. Tool batches are queued and
// answered one at a time, in arrival order, by a single worker.
type Agent struct {
	session    *live.Session
	registry   *tools.Registry
	transcript *transcript.Transcript
	dispatcher *tools.Dispatcher
	settings   SettingsSource
	capture    *audio.Capture
	playback   *audio.Playback
	framer     *mapview.Framer
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	busy   sync.WaitGroup // queued tool batches and framing jobs
	subs   []live.Subscription

	toolMu      sync.Mutex
	batches     [][]types.FunctionCall
	toolsClosed bool
	wake        chan struct{}

	mu           sync.Mutex
	muted        bool
	speakerMuted bool
	gain         float64
	connectedAt  time.Time
	lastConfig   live.Config
}

func New(opts Options) (*Agent, error) {
	if opts.Session == nil {
		return nil, errors.New("agent: session is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	if opts.Transcript == nil {
		opts.Transcript = transcript.New()
	}
	if opts.Settings == nil {
		opts.Settings = config.NewStore(config.Settings{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		session:    opts.Session,
		registry:   opts.Registry,
		transcript: opts.Transcript,
		settings:   opts.Settings,
		capture:    opts.Capture,
		playback:   opts.Playback,
		framer:     opts.Framer,
		logger:     logger.With("component", "agent"),
		ctx:        ctx,
		cancel:     cancel,
		gain:       1,
		wake:       make(chan struct{}, 1),
	}
	if g := opts.Settings.Get().SpeakerGain; g != nil {
		a.gain = *g
	}
	if a.playback != nil {
		a.playback.SetGain(a.gain)
	}
	a.dispatcher = tools.NewDispatcher(tools.DispatcherConfig{
		Registry:   opts.Registry,
		Sender:     opts.Session,
		Log:        batchLog{opts.Transcript},
		Concurrent: opts.ConcurrentTools,
		Logger:     logger,
		Metrics:    opts.Metrics,
	})
	a.subscribe()
	a.wg.Add(1)
	go a.runToolBatches()
	return a, nil
}

// batchLog drops the dispatcher's per-batch awaiting flag. The agent keeps
// the flag set while any batch is queued or running.
type batchLog struct{ *transcript.Transcript }

func (batchLog) SetAwaiting(bool) {}

func (a *Agent) Transcript() *transcript.Transcript { return a.transcript }

func (a *Agent) Session() *live.Session { return a.session }

func (a *Agent) Registry() *tools.Registry { return a.registry }

// Connected reports whether the session transport is open.
func (a *Agent) Connected() bool { return a.session.State() == live.StateOpen }

func (a *Agent) subscribe() {
	on := func(kind live.EventKind, fn live.Handler) {
		a.subs = append(a.subs, a.session.On(kind, fn))
	}
	on(live.EventOpen, func(live.Event) {
		a.mu.Lock()
		a.connectedAt = time.Now()
		a.mu.Unlock()
	})
	on(live.EventSetupComplete, func(live.Event) {
		if err := a.session.SendRealtimeText(Greeting); err != nil {
			a.logger.Warn("greeting not sent", "error", err)
		}
		a.startCaptureIfLive()
	})
	on(live.EventClose, func(ev live.Event) {
		a.stopCapture()
		a.flushPlayback()
	})
	on(live.EventError, func(ev live.Event) {
		e := ev.(live.ErrorEvent)
		a.transcript.AddSystem(connectionProblem(e.Err))
	})
	on(live.EventInterrupted, func(live.Event) {
		a.flushPlayback()
	})
	on(live.EventAudio, func(ev live.Event) {
		if a.playback != nil {
			a.playback.AddFrame(ev.(live.AudioEvent).Data)
		}
	})
	on(live.EventInputTranscription, func(ev live.Event) {
		e := ev.(live.InputTranscriptionEvent)
		a.transcript.Merge(transcript.Delta{Role: transcript.RoleUser, Text: e.Text, IsFinal: e.IsFinal})
	})
	on(live.EventOutputTranscription, func(ev live.Event) {
		e := ev.(live.OutputTranscriptionEvent)
		a.transcript.Merge(transcript.Delta{Role: transcript.RoleAgent, Text: e.Text, IsFinal: e.IsFinal})
	})
	on(live.EventContent, func(ev live.Event) {
		e := ev.(live.ContentEvent)
		a.transcript.AddContent(e.Text, e.GroundingChunks())
	})
	on(live.EventToolCall, func(ev live.Event) {
		a.enqueueBatch(ev.(live.ToolCallEvent).Calls)
	})
	finalize := func(live.Event) { a.transcript.ForceFinal() }
	on(live.EventTurnComplete, finalize)
	on(live.EventGenerationComplete, finalize)
}

// LiveConfig builds the connection configuration from the current settings.
// Tool toggles from the settings are applied to the registry first.
func (a *Agent) LiveConfig() live.Config {
	s := a.settings.Get()
	for name, enabled := range s.Tools {
		if err := a.registry.SetEnabled(name, enabled); err != nil {
			a.logger.Warn("ignoring settings for unknown tool", "tool", name)
		}
	}
	prompt := s.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = SystemInstructions
	}
	budget := 0
	return live.Config{
		Model:               s.Model,
		Voice:               s.Voice,
		SystemInstruction:   prompt,
		Tools:               a.registry.Declarations(),
		ResponseModalities:  []string{protocol.ModalityAudio},
		InputTranscription:  true,
		OutputTranscription: true,
		ThinkingBudget:      &budget,
	}
}

// Connect clears the transcript, drops any previous connection and opens a
// new one with the current settings. Failures are also logged as a system turn.
func (a *Agent) Connect(ctx context.Context) error {
	a.transcript.Clear()
	_ = a.session.Disconnect()

	cfg := a.LiveConfig()
	a.mu.Lock()
	a.lastConfig = cfg
	a.mu.Unlock()

	if err := a.session.Connect(ctx, cfg); err != nil {
		// Dial failures already surfaced through the error event.
		if errors.Is(err, live.ErrInvalidState) || errors.Is(err, context.Canceled) {
			a.transcript.AddSystem(connectionProblem(err))
		}
		return err
	}
	return nil
}

// Disconnect closes the session. In-flight tool batches still complete; their
// results are dropped by the closed session.
func (a *Agent) Disconnect() error {
	a.stopCapture()
	return a.session.Disconnect()
}

// SendChat logs text as a final user turn and sends it to the model.
func (a *Agent) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	a.transcript.AddTurn(transcript.RoleUser, text, true)
	if !a.Connected() {
		a.transcript.AddSystem("Cannot send message. Please connect to the stream first.")
		return ErrNotConnected
	}
	return a.session.SendRealtimeText(text)
}

// SendLocation shares the user's position and asks what is nearby.
func (a *Agent) SendLocation(lat, lng float64) error {
	if !a.Connected() {
		a.transcript.AddSystem("Cannot send location. Please connect to the stream first.")
		return ErrNotConnected
	}
	la, ln := formatCoord(lat), formatCoord(lng)
	a.transcript.AddTurn(transcript.RoleUser, fmt.Sprintf("My current location is latitude %s, longitude %s.", la, ln), true)
	return a.session.SendRealtimeText(fmt.Sprintf("My current location is latitude %s and longitude %s. What's nearby?", la, ln))
}

// SetMuted stops or resumes microphone capture.
func (a *Agent) SetMuted(muted bool) error {
	a.mu.Lock()
	a.muted = muted
	a.mu.Unlock()
	if muted {
		a.stopCapture()
		return nil
	}
	if a.session.State() == live.StateOpen {
		return a.startCapture()
	}
	return nil
}

func (a *Agent) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

// SetSpeakerMuted ramps the output gain to zero or back.
func (a *Agent) SetSpeakerMuted(muted bool) {
	a.mu.Lock()
	a.speakerMuted = muted
	gain := a.gain
	a.mu.Unlock()
	if a.playback == nil {
		return
	}
	if muted {
		gain = 0
	}
	a.playback.SetGain(gain)
}

func (a *Agent) SpeakerMuted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speakerMuted
}

// Level is the output meter, 0 without playback.
func (a *Agent) Level() float64 {
	if a.playback == nil {
		return 0
	}
	return a.playback.Level()
}

// ExportConfig describes the last connection for transcript exports.
func (a *Agent) ExportConfig() transcript.ExportConfig {
	a.mu.Lock()
	cfg := a.lastConfig
	a.mu.Unlock()
	if cfg.Model == "" && cfg.SystemInstruction == "" {
		cfg = a.LiveConfig()
	}
	return transcript.ExportConfig{Model: cfg.Model, SystemPrompt: cfg.SystemInstruction, Voice: cfg.Voice}
}

// Export writes the transcript to dir and returns the file path.
func (a *Agent) Export(dir string) (string, error) {
	return a.transcript.ExportFile(dir, time.Now(), a.ExportConfig(), a.registry.Export())
}

// ConnectedAt is the time the current or last transport opened.
func (a *Agent) ConnectedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectedAt
}

// OnGrounded frames the places of a grounded answer in the background.
func (a *Agent) OnGrounded(resp *types.GroundedResponse) {
	if a.framer == nil || resp == nil {
		return
	}
	a.wg.Add(1)
	a.busy.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.busy.Done()
		if _, err := a.framer.Frame(a.ctx, resp); err != nil {
			a.logger.Warn("framing grounded places failed", "error", err)
		}
	}()
}

// Close disconnects, waits for background work and unsubscribes.
func (a *Agent) Close() error {
	err := a.Disconnect()
	select {
	case <-a.session.Done():
	case <-time.After(5 * time.Second):
		a.logger.Warn("timed out waiting for the session to close")
	}
	a.cancel()
	a.wg.Wait()
	for _, sub := range a.subs {
		a.session.Off(sub)
	}
	a.subs = nil
	return err
}

// Wait blocks until queued tool batches and framing finished.
func (a *Agent) Wait() { a.busy.Wait() }

func (a *Agent) enqueueBatch(calls []types.FunctionCall) {
	a.toolMu.Lock()
	defer a.toolMu.Unlock()
	if a.toolsClosed {
		a.logger.Debug("tool batch dropped after close", "calls", len(calls))
		return
	}
	a.busy.Add(1)
	a.batches = append(a.batches, calls)
	a.transcript.SetAwaiting(true)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// runToolBatches answers queued batches sequentially so results go out in the
// order the calls arrived. Batches still queued at close are answered against
// the cancelled context.
func (a *Agent) runToolBatches() {
	defer a.wg.Done()
	for {
		calls, ok := a.nextBatch()
		if !ok {
			return
		}
		a.dispatcher.Dispatch(a.ctx, calls)

		a.toolMu.Lock()
		if len(a.batches) == 0 {
			a.transcript.SetAwaiting(false)
		}
		a.toolMu.Unlock()
		a.busy.Done()
	}
}

func (a *Agent) nextBatch() ([]types.FunctionCall, bool) {
	for {
		a.toolMu.Lock()
		if len(a.batches) > 0 {
			calls := a.batches[0]
			a.batches[0] = nil
			a.batches = a.batches[1:]
			a.toolMu.Unlock()
			return calls, true
		}
		if a.ctx.Err() != nil {
			a.toolsClosed = true
			a.toolMu.Unlock()
			return nil, false
		}
		a.toolMu.Unlock()

		select {
		case <-a.wake:
		case <-a.ctx.Done():
		}
	}
}

func (a *Agent) startCaptureIfLive() {
	if a.Muted() {
		return
	}
	if err := a.startCapture(); err != nil {
		a.logger.Error("microphone unavailable", "error", err)
		a.transcript.AddSystem(fmt.Sprintf("Microphone unavailable: %v", err))
	}
}

func (a *Agent) startCapture() error {
	if a.capture == nil || a.capture.Active() {
		return nil
	}
	return a.capture.Start(func(f audio.Frame) {
		if err := a.session.SendAudioChunk(f.Data); err != nil && !errors.Is(err, live.ErrClosed) {
			a.logger.Debug("audio chunk not sent", "error", err)
		}
	})
}

func (a *Agent) stopCapture() {
	if a.capture == nil {
		return
	}
	if err := a.capture.Stop(); err != nil {
		a.logger.Warn("stopping capture", "error", err)
	}
}

func (a *Agent) flushPlayback() {
	if a.playback != nil {
		a.playback.Stop()
	}
}

func connectionProblem(err error) string {
	var te *live.TransportError
	if errors.As(err, &te) {
		return fmt.Sprintf("Could not connect to the live model: %v", te.Err)
	}
	return fmt.Sprintf("Connection problem: %v", err)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
