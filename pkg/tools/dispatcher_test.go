package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
	"github.com/vango-go/vai-maps-live/pkg/mapview"
	"github.com/vango-go/vai-maps-live/pkg/transcript"
)

type fakeSender struct {
	mu      sync.Mutex
	batches [][]types.FunctionResponse
	err     error
}

func (s *fakeSender) SendToolResult(responses []types.FunctionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]types.FunctionResponse(nil), responses...))
	return s.err
}

// recordingLog wraps a transcript and records awaiting transitions.
type recordingLog struct {
	*transcript.Transcript
	mu       sync.Mutex
	awaiting []bool
}

func newRecordingLog() *recordingLog {
	return &recordingLog{Transcript: transcript.New()}
}

func (l *recordingLog) SetAwaiting(v bool) {
	l.mu.Lock()
	l.awaiting = append(l.awaiting, v)
	l.mu.Unlock()
	l.Transcript.SetAwaiting(v)
}

func (l *recordingLog) transitions() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.awaiting...)
}

func mustRegistry(t *testing.T, tools ...Tool) *Registry {
	t.Helper()
	r, err := NewRegistry(tools...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func echoTool(name string, fn Handler) Tool {
	return Tool{
		Declaration: types.FunctionDeclaration{Name: name},
		Scheduling:  types.SchedulingInterrupt,
		Enabled:     true,
		Handler:     fn,
	}
}

func TestDispatch_DisplayCityOnMap(t *testing.T) {
	t.Parallel()

	surface := mapview.NewLoggingSurface(nil)
	it := &Itinerary{Surface: surface}
	sender := &fakeSender{}
	d := NewDispatcher(DispatcherConfig{Registry: mustRegistry(t, it.Tools()...), Sender: sender, Log: newRecordingLog()})

	d.Dispatch(context.Background(), []types.FunctionCall{{
		ID: "1", Name: DisplayCityOnMap, Args: map[string]any{"lat": 41.87, "lng": -87.64},
	}})

	flights := surface.Flights()
	if len(flights) != 1 {
		t.Fatalf("flights = %d, want 1", len(flights))
	}
	want := mapview.FlyToOptions{
		EndCamera:      mapview.Camera{Center: mapview.LatLngAltitude{Lat: 41.87, Lng: -87.64, Altitude: 5000}, Range: 3000, Tilt: 10},
		DurationMillis: 3000,
	}
	if flights[0] != want {
		t.Fatalf("flight = %+v, want %+v", flights[0], want)
	}

	if len(sender.batches) != 1 || len(sender.batches[0]) != 1 {
		t.Fatalf("batches = %+v", sender.batches)
	}
	got := sender.batches[0][0]
	if got.ID != "1" || got.Name != DisplayCityOnMap {
		t.Fatalf("response = %+v", got)
	}
	if got.Response["result"] != "Displayed city at latitude 41.87 and longitude -87.64." {
		t.Fatalf("result = %v", got.Response["result"])
	}
	if got.Scheduling != types.SchedulingInterrupt {
		t.Fatalf("scheduling = %q", got.Scheduling)
	}
}

func TestDispatch_UnknownToolAndAwaitingFlag(t *testing.T) {
	t.Parallel()

	log := newRecordingLog()
	sender := &fakeSender{}
	d := NewDispatcher(DispatcherConfig{Registry: mustRegistry(t), Sender: sender, Log: log})

	d.Dispatch(context.Background(), []types.FunctionCall{{ID: "x", Name: "foo"}})

	if len(sender.batches) != 1 {
		t.Fatalf("batches = %d", len(sender.batches))
	}
	got := sender.batches[0][0]
	if got.ID != "x" || got.Name != "foo" || got.Response["result"] != "Unknown tool called: foo." {
		t.Fatalf("response = %+v", got)
	}
	if tr := log.transitions(); len(tr) != 2 || !tr[0] || tr[1] {
		t.Fatalf("awaiting transitions = %v, want [true false]", tr)
	}
	if log.Awaiting() {
		t.Fatal("awaiting left set")
	}
}

func TestDispatch_AwaitingSetWhileRunning(t *testing.T) {
	t.Parallel()

	log := newRecordingLog()
	var during bool
	reg := mustRegistry(t, echoTool("checkFlag", func(context.Context, map[string]any) (any, error) {
		during = log.Awaiting()
		return "ok", nil
	}))
	NewDispatcher(DispatcherConfig{Registry: reg, Sender: &fakeSender{}, Log: log}).
		Dispatch(context.Background(), []types.FunctionCall{{ID: "1", Name: "checkFlag"}})
	if !during {
		t.Fatal("awaiting flag not set during execution")
	}
}

func TestDispatch_BatchCompleteness(t *testing.T) {
	t.Parallel()

	for _, concurrent := range []bool{false, true} {
		t.Run(fmt.Sprintf("concurrent=%v", concurrent), func(t *testing.T) {
			t.Parallel()

			reg := mustRegistry(t,
				echoTool("ok", func(_ context.Context, args map[string]any) (any, error) { return args["v"], nil }),
				echoTool("fail", func(context.Context, map[string]any) (any, error) { return nil, errors.New("boom") }),
				echoTool("panic", func(context.Context, map[string]any) (any, error) { panic("bad") }),
				echoTool("slow", func(ctx context.Context, _ map[string]any) (any, error) {
					time.Sleep(5 * time.Millisecond)
					return "slow", nil
				}),
			)
			log := newRecordingLog()
			sender := &fakeSender{}
			d := NewDispatcher(DispatcherConfig{Registry: reg, Sender: sender, Log: log, Concurrent: concurrent})

			names := []string{"slow", "ok", "fail", "nope", "panic", "ok"}
			calls := make([]types.FunctionCall, len(names))
			for i, name := range names {
				calls[i] = types.FunctionCall{ID: fmt.Sprintf("c%d", i), Name: name, Args: map[string]any{"v": i}}
			}
			d.Dispatch(context.Background(), calls)

			if len(sender.batches) != 1 {
				t.Fatalf("batches = %d, want exactly 1", len(sender.batches))
			}
			batch := sender.batches[0]
			if len(batch) != len(calls) {
				t.Fatalf("len(batch) = %d, want %d", len(batch), len(calls))
			}
			seen := map[string]int{}
			for i, r := range batch {
				seen[r.ID]++
				if r.ID != calls[i].ID || r.Name != calls[i].Name {
					t.Fatalf("batch[%d] = %+v, want id %s name %s", i, r, calls[i].ID, calls[i].Name)
				}
			}
			for _, c := range calls {
				if seen[c.ID] != 1 {
					t.Fatalf("id %s appears %d times", c.ID, seen[c.ID])
				}
			}
			if batch[1].Response["result"] != 1 {
				t.Fatalf("ok result = %v", batch[1].Response["result"])
			}
			if batch[2].Response["result"] != "Error executing tool fail." {
				t.Fatalf("fail result = %v", batch[2].Response["result"])
			}
			if batch[3].Response["result"] != "Unknown tool called: nope." {
				t.Fatalf("unknown result = %v", batch[3].Response["result"])
			}
			if batch[4].Response["result"] != "Error executing tool panic." {
				t.Fatalf("panic result = %v", batch[4].Response["result"])
			}
		})
	}
}

func TestDispatch_SystemTurns(t *testing.T) {
	t.Parallel()

	log := newRecordingLog()
	reg := mustRegistry(t,
		echoTool("ok", func(context.Context, map[string]any) (any, error) { return "done", nil }),
		echoTool("fail", func(context.Context, map[string]any) (any, error) { return nil, errors.New("boom") }),
	)
	d := NewDispatcher(DispatcherConfig{Registry: reg, Sender: &fakeSender{}, Log: log})
	d.Dispatch(context.Background(), []types.FunctionCall{
		{ID: "1", Name: "ok", Args: map[string]any{"city": "Chicago"}},
		{ID: "2", Name: "fail"},
	})

	turns := log.Turns()
	if len(turns) != 4 {
		t.Fatalf("turns = %d: %+v", len(turns), turns)
	}
	for _, turn := range turns {
		if turn.Role != transcript.RoleSystem || !turn.IsFinal {
			t.Fatalf("unexpected turn %+v", turn)
		}
	}
	wantTrigger := "Triggering function call: **ok**\n```json\n{\n  \"city\": \"Chicago\"\n}\n```"
	if turns[0].Text != wantTrigger {
		t.Fatalf("trigger = %q, want %q", turns[0].Text, wantTrigger)
	}
	if !strings.HasPrefix(turns[1].Text, "Triggering function call: **fail**") {
		t.Fatalf("turn 1 = %q", turns[1].Text)
	}
	if turns[2].Text != "Error executing tool fail." {
		t.Fatalf("turn 2 = %q", turns[2].Text)
	}
	if !strings.HasPrefix(turns[3].Text, "Function call response:\n```json\n[") || !strings.Contains(turns[3].Text, `"result": "done"`) {
		t.Fatalf("response turn = %q", turns[3].Text)
	}
}

func TestDispatch_SendFailureIsLogged(t *testing.T) {
	t.Parallel()

	log := newRecordingLog()
	sender := &fakeSender{err: errors.New("session closed")}
	reg := mustRegistry(t, echoTool("ok", func(context.Context, map[string]any) (any, error) { return "done", nil }))
	results := NewDispatcher(DispatcherConfig{Registry: reg, Sender: sender, Log: log}).
		Dispatch(context.Background(), []types.FunctionCall{{ID: "1", Name: "ok"}})

	if len(results) != 1 || len(sender.batches) != 1 {
		t.Fatalf("results = %v, batches = %d", results, len(sender.batches))
	}
	if log.Awaiting() {
		t.Fatal("awaiting left set after failed send")
	}
}

func TestDispatch_DisabledToolIsUnknown(t *testing.T) {
	t.Parallel()

	reg := mustRegistry(t, echoTool("ok", func(context.Context, map[string]any) (any, error) { return "done", nil }))
	if err := reg.SetEnabled("ok", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	results := NewDispatcher(DispatcherConfig{Registry: reg, Sender: &fakeSender{}}).
		Dispatch(context.Background(), []types.FunctionCall{{ID: "1", Name: "ok"}})
	if results[0].Response["result"] != "Unknown tool called: ok." {
		t.Fatalf("result = %v", results[0].Response["result"])
	}
}
