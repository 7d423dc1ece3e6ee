package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

const testTimeout = 3 * time.Second

func newLiveWebsocketTestServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("server read: %v", err)
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Errorf("server decode %s: %v", data, err)
		return nil
	}
	return out
}

func writeFrame(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Errorf("server write: %v", err)
	}
}

// drain reads until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func record(s *Session) *recorder {
	r := &recorder{ch: make(chan Event, 256)}
	for _, kind := range EventKinds {
		s.On(kind, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			r.ch <- ev
		})
	}
	return r
}

func (r *recorder) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; saw %v", kind, r.kinds())
			return nil
		}
	}
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) kinds() []EventKind {
	return kinds(r.snapshot())
}

func (r *recorder) last(kind EventKind) Event {
	events := r.snapshot()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind() == kind {
			return events[i]
		}
	}
	return nil
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(testTimeout):
		t.Fatalf("session did not finish; state=%s", s.State())
	}
}

func newTestSession(url string) *Session {
	return New(Options{Endpoint: url, APIKey: "test-key", PingInterval: time.Hour})
}

func TestSession_TextTurnRoundTrip(t *testing.T) {
	serverDone := make(chan struct{})
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer close(serverDone)

		setup := readFrame(t, conn)
		body, _ := setup["setup"].(map[string]any)
		if body["model"] != "models/"+DefaultModel {
			t.Errorf("setup model=%v", body["model"])
		}
		gen, _ := body["generationConfig"].(map[string]any)
		if mods, _ := gen["responseModalities"].([]any); len(mods) != 1 || mods[0] != "AUDIO" {
			t.Errorf("responseModalities=%v", gen["responseModalities"])
		}
		writeFrame(t, conn, `{"setupComplete":{}}`)

		msg := readFrame(t, conn)
		cc, _ := msg["clientContent"].(map[string]any)
		if cc["turnComplete"] != true {
			t.Errorf("clientContent=%v", msg)
		}
		turns, _ := cc["turns"].([]any)
		if len(turns) != 1 {
			t.Errorf("turns=%v", turns)
		} else {
			turn := turns[0].(map[string]any)
			parts := turn["parts"].([]any)
			if turn["role"] != "user" || parts[0].(map[string]any)["text"] != "hello" {
				t.Errorf("turn=%v", turn)
			}
		}

		writeFrame(t, conn, `{"serverContent":{"modelTurn":{"parts":[{"text":"Hi "}]}}}`)
		writeFrame(t, conn, `{"serverContent":{"modelTurn":{"parts":[{"text":"there!"}]}}}`)
		writeFrame(t, conn, `{"serverContent":{"turnComplete":true}}`)
		drain(conn)
	})

	s := newTestSession(url)
	rec := record(s)

	if err := s.Connect(context.Background(), Config{Voice: "Zephyr"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.State() != StateOpen {
		t.Fatalf("state=%s, want open", s.State())
	}
	rec.waitFor(t, EventSetupComplete)
	select {
	case <-s.Ready():
	case <-time.After(testTimeout):
		t.Fatalf("Ready not closed after setup-complete")
	}

	if err := s.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	rec.waitFor(t, EventTurnComplete)

	var text strings.Builder
	for _, ev := range rec.snapshot() {
		if c, ok := ev.(ContentEvent); ok {
			text.WriteString(c.Text)
		}
	}
	if text.String() != "Hi there!" {
		t.Fatalf("content=%q", text.String())
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	waitDone(t, s)

	if got := rec.count(EventClose); got != 1 {
		t.Fatalf("close events=%d, want 1", got)
	}
	if got := rec.count(EventError); got != 0 {
		t.Fatalf("error events=%d, want 0", got)
	}
	if s.State() != StateClosed {
		t.Fatalf("state=%s, want closed", s.State())
	}
	closeEv := rec.last(EventClose).(CloseEvent)
	if closeEv.Code != websocket.CloseNormalClosure {
		t.Fatalf("close code=%d", closeEv.Code)
	}
	if err := s.SendText("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err=%v, want ErrClosed", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect after close: %v", err)
	}
	if got := rec.count(EventClose); got != 1 {
		t.Fatalf("close events after extra Disconnect=%d, want 1", got)
	}

	select {
	case <-serverDone:
	case <-time.After(testTimeout):
		t.Fatalf("server handler did not observe the close")
	}
}

func TestSession_BuffersSendsUntilSetupComplete(t *testing.T) {
	sent := make(chan struct{})
	received := make(chan []string, 1)
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		<-sent
		writeFrame(t, conn, `{"setupComplete":{}}`)

		var texts []string
		for i := 0; i < 3; i++ {
			msg := readFrame(t, conn)
			if ri, ok := msg["realtimeInput"].(map[string]any); ok {
				texts = append(texts, ri["text"].(string))
			}
		}
		received <- texts
		drain(conn)
	})

	s := newTestSession(url)
	rec := record(s)
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.Ready() == nil {
		t.Fatalf("Ready should be non-nil while open")
	}
	for _, text := range []string{"one", "two"} {
		if err := s.SendRealtimeText(text); err != nil {
			t.Fatalf("SendRealtimeText(%q): %v", text, err)
		}
	}
	close(sent)
	rec.waitFor(t, EventSetupComplete)
	if err := s.SendRealtimeText("three"); err != nil {
		t.Fatalf("SendRealtimeText after setup: %v", err)
	}

	select {
	case texts := <-received:
		if strings.Join(texts, ",") != "one,two,three" {
			t.Fatalf("texts=%v", texts)
		}
	case <-time.After(testTimeout):
		t.Fatalf("server did not receive buffered sends")
	}

	_ = s.Disconnect()
	waitDone(t, s)
}

func TestSession_BufferedSendsPrecedeSetupHandlers(t *testing.T) {
	sent := make(chan struct{})
	received := make(chan []string, 1)
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		<-sent
		writeFrame(t, conn, `{"setupComplete":{}}`)

		var texts []string
		for i := 0; i < 2; i++ {
			msg := readFrame(t, conn)
			if ri, ok := msg["realtimeInput"].(map[string]any); ok {
				texts = append(texts, ri["text"].(string))
			}
		}
		received <- texts
		drain(conn)
	})

	s := newTestSession(url)
	s.On(EventSetupComplete, func(Event) {
		if err := s.SendRealtimeText("from handler"); err != nil {
			t.Errorf("send from setup handler: %v", err)
		}
	})
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.SendRealtimeText("buffered"); err != nil {
		t.Fatalf("SendRealtimeText: %v", err)
	}
	close(sent)

	select {
	case texts := <-received:
		if strings.Join(texts, ",") != "buffered,from handler" {
			t.Fatalf("texts=%v", texts)
		}
	case <-time.After(testTimeout):
		t.Fatalf("server did not receive both sends")
	}

	_ = s.Disconnect()
	waitDone(t, s)
}

func TestSession_PreSetupBufferIsBounded(t *testing.T) {
	release := make(chan struct{})
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		<-release
	})

	s := New(Options{Endpoint: url, SendBuffer: 2, PingInterval: time.Hour})
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer close(release)

	if err := s.SendRealtimeText("a"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := s.SendRealtimeText("b"); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if err := s.SendRealtimeText("c"); !errors.Is(err, ErrSendBufferFull) {
		t.Fatalf("third send err=%v, want ErrSendBufferFull", err)
	}
	_ = s.Disconnect()
	waitDone(t, s)
}

func TestSession_DropsUnknownAndMalformedFrames(t *testing.T) {
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		writeFrame(t, conn, `not json`)
		writeFrame(t, conn, `[1,2]`)
		writeFrame(t, conn, `{"mystery":{}}`)
		writeFrame(t, conn, `{"serverContent":{"modelTurn":"oops"}}`)
		writeFrame(t, conn, `{"setupComplete":{}}`)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		drain(conn)
	})

	s := newTestSession(url)
	rec := record(s)
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitDone(t, s)

	want := []EventKind{EventOpen, EventSetupComplete, EventClose}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("kinds=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds=%v, want %v", got, want)
		}
	}
	ev := rec.last(EventClose).(CloseEvent)
	if ev.Code != websocket.CloseNormalClosure || ev.Reason != "bye" {
		t.Fatalf("close=%+v", ev)
	}
	if s.State() != StateClosed {
		t.Fatalf("state=%s", s.State())
	}
}

func TestSession_RemoteDropEmitsErrorThenClose(t *testing.T) {
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		writeFrame(t, conn, `{"setupComplete":{}}`)
		_ = conn.UnderlyingConn().Close()
	})

	s := newTestSession(url)
	rec := record(s)
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitDone(t, s)

	got := rec.kinds()
	if len(got) < 2 || got[len(got)-2] != EventError || got[len(got)-1] != EventClose {
		t.Fatalf("kinds=%v, want ... error, close", got)
	}
	if rec.count(EventClose) != 1 {
		t.Fatalf("close events=%d", rec.count(EventClose))
	}
	if s.State() != StateClosed {
		t.Fatalf("state=%s", s.State())
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	server, url := newLiveWebsocketTestServer(t, func(*websocket.Conn) {})
	server.Close()

	s := newTestSession(url)
	rec := record(s)
	err := s.Connect(context.Background(), Config{})
	if err == nil {
		t.Fatalf("expected connect error")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err=%T %v, want *TransportError", err, err)
	}
	if strings.Contains(err.Error(), "test-key") {
		t.Fatalf("api key leaked in error: %v", err)
	}
	if s.State() != StateError {
		t.Fatalf("state=%s, want error", s.State())
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventError {
		t.Fatalf("kinds=%v, want [error]", got)
	}
	if err := s.SendText("x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("send err=%v, want ErrClosed", err)
	}
}

func TestSession_ReconnectOrdersCloseBeforeOpen(t *testing.T) {
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		writeFrame(t, conn, `{"setupComplete":{}}`)
		drain(conn)
	})

	s := newTestSession(url)
	rec := record(s)
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, EventSetupComplete)
	first := s.ID()

	_ = s.Disconnect()
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	rec.waitFor(t, EventSetupComplete)
	if s.ID() == first {
		t.Fatalf("reconnect reused connection id %s", first)
	}

	_ = s.Disconnect()
	waitDone(t, s)

	want := []EventKind{EventOpen, EventSetupComplete, EventClose, EventOpen, EventSetupComplete, EventClose}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("kinds=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds=%v, want %v", got, want)
		}
	}
}

func TestSession_ConnectWhileOpenIsInvalid(t *testing.T) {
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		drain(conn)
	})

	s := newTestSession(url)
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(context.Background(), Config{}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Connect err=%v, want ErrInvalidState", err)
	}
	_ = s.Disconnect()
	waitDone(t, s)
}

func TestSession_ToolResultWireShape(t *testing.T) {
	got := make(chan map[string]any, 1)
	_, url := newLiveWebsocketTestServer(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		writeFrame(t, conn, `{"setupComplete":{}}`)
		writeFrame(t, conn, `{"toolCall":{"functionCalls":[{"id":"c1","name":"displayCityOnMap","args":{"lat":48.85,"lng":2.35}}]}}`)
		got <- readFrame(t, conn)
		drain(conn)
	})

	s := newTestSession(url)
	s.On(EventToolCall, func(ev Event) {
		call := ev.(ToolCallEvent).Calls[0]
		go func() {
			_ = s.SendToolResult([]types.FunctionResponse{{
				ID:       call.ID,
				Name:     call.Name,
				Response: map[string]any{"result": "ok"},
			}})
		}()
	})
	if err := s.Connect(context.Background(), Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case msg := <-got:
		tr, _ := msg["toolResponse"].(map[string]any)
		responses, _ := tr["functionResponses"].([]any)
		if len(responses) != 1 {
			t.Fatalf("toolResponse=%v", msg)
		}
		r := responses[0].(map[string]any)
		if r["id"] != "c1" || r["name"] != "displayCityOnMap" {
			t.Fatalf("response=%v", r)
		}
	case <-time.After(testTimeout):
		t.Fatalf("no tool response received")
	}
	_ = s.Disconnect()
	waitDone(t, s)
}

func TestSession_DisconnectWhenIdle(t *testing.T) {
	t.Parallel()

	s := New(Options{})
	rec := record(s)
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("state=%s", s.State())
	}
	if len(rec.kinds()) != 0 {
		t.Fatalf("events=%v", rec.kinds())
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("Done should be closed with no connection")
	}
}

func TestEndpointURL(t *testing.T) {
	t.Parallel()

	s := New(Options{Endpoint: "https://example.test/ws?alt=1", APIKey: "k"})
	got, err := s.endpointURL()
	if err != nil {
		t.Fatalf("endpointURL: %v", err)
	}
	if got != "wss://example.test/ws?alt=1&key=k" {
		t.Fatalf("url=%s", got)
	}

	s = New(Options{Endpoint: "ftp://example.test"})
	if _, err := s.endpointURL(); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	got := redactURL("wss://user:pw@example.test/ws?key=secret")
	if strings.Contains(got, "secret") || strings.Contains(got, "pw") {
		t.Fatalf("redactURL=%s", got)
	}
	if !strings.Contains(got, "key=REDACTED") {
		t.Fatalf("redactURL=%s", got)
	}
}
