package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
	"github.com/vango-go/vai-maps-live/pkg/live/protocol"
	"github.com/vango-go/vai-maps-live/pkg/metrics"
)

const (
	// DefaultEndpoint is the bidirectional generate-content websocket.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultConnectTimeout = 15 * time.Second
	defaultSendBuffer     = 256
)

// Options configures the transport of a Session.
type Options struct {
	Endpoint string
	APIKey   string
	Header   http.Header
	Dialer   *websocket.Dialer

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration

	// SendBuffer bounds both the pre-setup buffer and each writer queue.
	SendBuffer int

	// InputMIMEType tags outbound audio chunks.
	InputMIMEType string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Session is one logical client of the live model endpoint. It owns at most
// one websocket at a time and delivers inbound events through its Bus.
type Session struct {
	opts    Options
	bus     *Bus
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	state      State
	cfg        Config
	id         string
	conn       *connection
	dialCancel context.CancelFunc
	setupDone  bool
	pending    []outbound
}

type outbound struct {
	data     []byte
	priority bool
}

type connection struct {
	id       string
	ws       *websocket.Conn
	cancel   context.CancelFunc
	priority chan []byte
	normal   chan []byte
	ready    chan struct{}
	done     chan struct{}
	openedAt time.Time

	writerDone chan struct{}

	closeMu   sync.Mutex
	closing   bool
	writerErr error
}

// New creates an idle Session.
func New(opts Options) *Session {
	if strings.TrimSpace(opts.Endpoint) == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if strings.TrimSpace(opts.InputMIMEType) == "" {
		opts.InputMIMEType = protocol.InputAudioMIMEType
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:    opts,
		bus:     NewBus(),
		logger:  logger.With("component", "live_session"),
		metrics: opts.Metrics,
		state:   StateIdle,
	}
}

// Bus returns the event bus. Subscriptions survive reconnects.
func (s *Session) Bus() *Bus { return s.bus }

// On subscribes fn to kind; shorthand for Bus().Subscribe.
func (s *Session) On(kind EventKind, fn Handler) Subscription { return s.bus.Subscribe(kind, fn) }

// Off removes a subscription.
func (s *Session) Off(sub Subscription) { s.bus.Unsubscribe(sub) }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the id of the current or last connection.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Config returns the configuration captured by the last Connect.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Ready is closed once the server accepted the setup of the current
// connection. It returns nil when there is no connection.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.state != StateOpen {
		return nil
	}
	return s.conn.ready
}

// Done is closed after the close event of the current connection was delivered.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.conn.done
}

// Connect dials the endpoint and sends the setup message built from cfg. It
// returns once the transport is open; callers wait on Ready (or the
// setup-complete event) before relying on the session. A connection that is
// still closing is awaited first, so Connect must not be called from an event
// handler.
func (s *Session) Connect(ctx context.Context, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	setupFrame, err := json.Marshal(protocol.ClientSetup{Setup: cfg.Setup()})
	if err != nil {
		return fmt.Errorf("encode setup: %w", err)
	}

	// Wait for the previous connection to deliver its close event.
	s.mu.Lock()
	for s.conn != nil && s.state != StateOpen && !isClosed(s.conn.done) {
		prev := s.conn
		s.mu.Unlock()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	switch s.state {
	case StateIdle, StateClosed, StateError:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, state)
	}

	id := uuid.NewString()
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	s.state = StateConnecting
	s.cfg = cfg
	s.id = id
	s.dialCancel = cancel
	s.setupDone = false
	s.pending = nil
	s.mu.Unlock()

	wsURL, err := s.endpointURL()
	if err != nil {
		cancel()
		return s.failConnect(id, nil, &TransportError{Op: "dial", Err: err})
	}

	dialer := s.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	s.logger.Debug("dialing live endpoint", "session_id", id, "model", cfg.Model)
	ws, resp, err := dialer.DialContext(dialCtx, wsURL, s.opts.Header)
	cancel()
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return s.failConnect(id, nil, &TransportError{Op: "GET", URL: wsURL, Err: err})
	}

	writeTimeout := s.opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, setupFrame); err != nil {
		return s.failConnect(id, ws, &TransportError{Op: "setup", URL: wsURL, Err: err})
	}

	writerCtx, writerCancel := context.WithCancel(context.Background())
	c := &connection{
		id:         id,
		ws:         ws,
		cancel:     writerCancel,
		priority:   make(chan []byte, s.opts.SendBuffer),
		normal:     make(chan []byte, s.opts.SendBuffer),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		openedAt:   time.Now(),
	}

	s.mu.Lock()
	if s.state != StateConnecting || s.id != id {
		// Disconnect raced the dial.
		s.mu.Unlock()
		writerCancel()
		_ = ws.Close()
		return ErrClosed
	}
	s.conn = c
	s.state = StateOpen
	s.dialCancel = nil
	s.mu.Unlock()

	s.metrics.RecordSessionOpen()
	s.logger.Info("live session open", "session_id", id, "model", cfg.Model, "voice", cfg.Voice)
	s.publish(OpenEvent{SessionID: id})

	w := &outboundWriter{
		ws:           ws,
		ctx:          writerCtx,
		priority:     c.priority,
		normal:       c.normal,
		pingInterval: s.opts.PingInterval,
		writeTimeout: writeTimeout,
	}
	go func() {
		defer close(c.writerDone)
		if err := w.Run(); err != nil {
			c.closeMu.Lock()
			c.writerErr = err
			c.closeMu.Unlock()
			s.logger.Warn("live writer stopped", "session_id", id, "error", err)
			_ = ws.Close()
		}
	}()
	go s.readLoop(c)
	return nil
}

func (s *Session) failConnect(id string, ws *websocket.Conn, err error) error {
	if ws != nil {
		_ = ws.Close()
	}
	s.mu.Lock()
	if s.state != StateConnecting || s.id != id {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = StateError
	s.dialCancel = nil
	dropped := len(s.pending)
	s.pending = nil
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("discarding sends buffered before connect failed", "session_id", id, "count", dropped)
	}
	s.metrics.RecordConnectFailure()
	s.logger.Error("live connect failed", "session_id", id, "error", err)
	s.publish(ErrorEvent{SessionID: id, Err: err})
	return err
}

func (s *Session) endpointURL() (string, error) {
	u, err := url.Parse(s.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if key := strings.TrimSpace(s.opts.APIKey); key != "" {
		q := u.Query()
		q.Set("key", key)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Disconnect closes the transport. It is valid in every state and idempotent:
// one open connection produces exactly one close event. Disconnect does not
// wait for the close event; use Done for that.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		c := s.conn
		s.state = StateClosing
		s.mu.Unlock()
		c.closeMu.Lock()
		c.closing = true
		c.closeMu.Unlock()
		// The writer sends a normal closure and closes the socket; the read
		// loop then finishes the connection.
		c.cancel()
		return nil
	case StateConnecting:
		if s.dialCancel != nil {
			s.dialCancel()
			s.dialCancel = nil
		}
		s.state = StateClosed
		s.pending = nil
		s.mu.Unlock()
		return nil
	case StateClosing:
		s.mu.Unlock()
		return nil
	default:
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	}
}

// SendAudioChunk sends one PCM frame as realtime input. The slice is encoded
// before SendAudioChunk returns and is not retained.
func (s *Session) SendAudioChunk(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := s.sendJSON(protocol.NewAudioInput(s.opts.InputMIMEType, pcm), false); err != nil {
		return err
	}
	s.metrics.RecordAudio("out", len(pcm))
	return nil
}

// SendText sends an end-user chat message as a complete user turn.
func (s *Session) SendText(text string) error {
	return s.sendJSON(protocol.NewUserTurn(text), true)
}

// SendRealtimeText sends text on the realtime input channel.
func (s *Session) SendRealtimeText(text string) error {
	return s.sendJSON(protocol.NewRealtimeText(text), true)
}

// SendToolResult sends one complete result batch.
func (s *Session) SendToolResult(responses []types.FunctionResponse) error {
	return s.sendJSON(protocol.NewToolResponse(responses), true)
}

func (s *Session) sendJSON(v any, priority bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateConnecting || (s.state == StateOpen && !s.setupDone):
		if len(s.pending) >= s.opts.SendBuffer {
			s.metrics.RecordSendRejected("buffer_full")
			return ErrSendBufferFull
		}
		s.pending = append(s.pending, outbound{data: data, priority: priority})
		s.logger.Debug("buffering send until setup completes", "session_id", s.id, "pending", len(s.pending))
		return nil
	case s.state == StateOpen:
		return s.enqueueLocked(s.conn, outbound{data: data, priority: priority})
	default:
		s.metrics.RecordSendRejected("closed")
		return ErrClosed
	}
}

func (s *Session) enqueueLocked(c *connection, msg outbound) error {
	ch := c.normal
	if msg.priority {
		ch = c.priority
	}
	select {
	case ch <- msg.data:
		return nil
	default:
		s.metrics.RecordSendRejected("buffer_full")
		return ErrSendBufferFull
	}
}

// completeSetup flushes the pre-setup buffer in order and marks the connection ready.
func (s *Session) completeSetup(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != c || s.setupDone {
		return
	}
	s.setupDone = true
	pending := s.pending
	s.pending = nil
	for i, msg := range pending {
		if err := s.enqueueLocked(c, msg); err != nil {
			s.logger.Warn("dropping buffered sends: writer queue full", "session_id", c.id, "dropped", len(pending)-i)
			break
		}
	}
	close(c.ready)
}

func (s *Session) publish(ev Event) {
	s.metrics.RecordEvent(string(ev.Kind()))
	s.bus.Publish(ev)
}

func (s *Session) readLoop(c *connection) {
	code, reason := websocket.CloseNormalClosure, ""
	var readErr error

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
				if ce.Code != websocket.CloseNormalClosure && ce.Code != websocket.CloseGoingAway {
					readErr = err
				}
			} else {
				code, reason = websocket.CloseAbnormalClosure, err.Error()
				readErr = err
			}
			break
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			errCode := "malformed"
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				errCode = de.Code
			}
			s.metrics.RecordDroppedFrame(errCode)
			s.logger.Warn("dropping inbound frame", "session_id", c.id, "code", errCode, "bytes", len(data), "error", err)
			continue
		}
		s.dispatch(c, msg)
	}

	c.closeMu.Lock()
	closing := c.closing
	c.closeMu.Unlock()
	if closing {
		code, reason, readErr = websocket.CloseNormalClosure, "client disconnect", nil
	}
	s.finish(c, code, reason, readErr)
}

func (s *Session) dispatch(c *connection, msg *protocol.ServerMessage) {
	if msg.SetupComplete != nil {
		s.completeSetup(c)
	}
	if msg.ToolCallCancellation != nil {
		s.logger.Info("server cancelled tool calls", "session_id", c.id, "ids", msg.ToolCallCancellation.IDs)
	}
	if msg.GoAway != nil {
		s.logger.Warn("server will close the session", "session_id", c.id, "time_left", msg.GoAway.TimeLeft)
	}
	for _, ev := range demux(msg, s.logger) {
		s.publish(ev)
	}
}

func (s *Session) finish(c *connection, code int, reason string, readErr error) {
	c.cancel()
	<-c.writerDone
	_ = c.ws.Close()

	s.mu.Lock()
	current := s.conn == c
	if current && readErr != nil {
		s.state = StateError
	}
	s.mu.Unlock()

	status := "closed"
	if readErr != nil {
		status = "error"
		s.logger.Error("live session dropped", "session_id", c.id, "code", code, "error", readErr)
		s.publish(ErrorEvent{SessionID: c.id, Err: fmt.Errorf("live session dropped: %w", readErr)})
	}

	s.mu.Lock()
	if current {
		s.state = StateClosed
		if dropped := len(s.pending); dropped > 0 {
			s.logger.Warn("discarding sends buffered before setup completed", "session_id", c.id, "count", dropped)
		}
		s.pending = nil
		s.setupDone = false
	}
	s.mu.Unlock()

	s.metrics.RecordSessionEnd(status, time.Since(c.openedAt))
	s.logger.Info("live session closed", "session_id", c.id, "code", code, "reason", reason)
	s.publish(CloseEvent{SessionID: c.id, Code: code, Reason: reason})
	close(c.done)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
