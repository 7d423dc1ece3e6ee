package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
	"github.com/vango-go/vai-maps-live/pkg/metrics"
	"github.com/vango-go/vai-maps-live/pkg/transcript"
)

// ResultSender delivers a result batch; *live.Session satisfies it.
type ResultSender interface {
	SendToolResult(responses []types.FunctionResponse) error
}

// Log receives the dispatcher's system turns and the awaiting flag.
type Log interface {
	AddSystem(text string) transcript.Turn
	SetAwaiting(v bool)
}

type DispatcherConfig struct {
	Registry *Registry
	Sender   ResultSender
	Log      Log

	// Concurrent runs the calls of one batch in parallel. Results keep
	// request order either way.
	Concurrent bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher answers tool-call batches: every call gets exactly one response
// and the batch is sent once, after all calls resolved.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, logger: logger.With("component", "tool_dispatcher")}
}

// Dispatch executes calls and sends the result batch. It returns the batch
// that was sent (or attempted); a send failure is logged, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []types.FunctionCall) []types.FunctionResponse {
	d.setAwaiting(true)
	defer d.setAwaiting(false)

	start := time.Now()
	results := d.executeCalls(ctx, calls)
	d.cfg.Metrics.RecordToolBatch(time.Since(start))

	if len(results) > 0 {
		d.addSystem("Function call response:\n" + jsonBlock(results))
	}
	if d.cfg.Sender == nil {
		d.logger.Warn("no result sender configured; dropping tool results", "calls", len(calls))
		return results
	}
	if err := d.cfg.Sender.SendToolResult(results); err != nil {
		d.logger.Warn("tool result not delivered", "calls", len(calls), "error", err)
	}
	return results
}

func (d *Dispatcher) executeCalls(ctx context.Context, calls []types.FunctionCall) []types.FunctionResponse {
	results := make([]types.FunctionResponse, len(calls))

	if !d.cfg.Concurrent || len(calls) < 2 {
		for i, call := range calls {
			d.announce(call)
			results[i] = d.executeCall(ctx, call)
		}
		return results
	}

	for _, call := range calls {
		d.announce(call)
	}
	// Calls never fail the group; errgroup is only the join.
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.executeCall(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) announce(call types.FunctionCall) {
	d.addSystem(fmt.Sprintf("Triggering function call: **%s**\n%s", call.Name, jsonBlock(call.Args)))
}

func (d *Dispatcher) executeCall(ctx context.Context, call types.FunctionCall) (resp types.FunctionResponse) {
	resp = types.FunctionResponse{ID: call.ID, Name: call.Name}

	tool, ok := d.cfg.Registry.Lookup(call.Name)
	if !ok {
		d.logger.Warn("unknown tool called", "tool", call.Name, "call_id", call.ID)
		d.cfg.Metrics.RecordToolCall(call.Name, "unknown")
		resp.Response = map[string]any{"result": fmt.Sprintf("Unknown tool called: %s.", call.Name)}
		return resp
	}
	resp.Scheduling = tool.Scheduling

	output, err := runHandler(ctx, tool.Handler, call.Args)
	if err != nil {
		msg := fmt.Sprintf("Error executing tool %s.", call.Name)
		d.logger.Error(msg, "call_id", call.ID, "error", err)
		d.addSystem(msg)
		d.cfg.Metrics.RecordToolCall(call.Name, "error")
		resp.Response = map[string]any{"result": msg}
		return resp
	}
	d.cfg.Metrics.RecordToolCall(call.Name, "ok")
	resp.Response = map[string]any{"result": output}
	return resp
}

// runHandler converts a handler panic into an error so one call cannot take
// down the batch.
func runHandler(ctx context.Context, h Handler, args map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return h(ctx, args)
}

func (d *Dispatcher) addSystem(text string) {
	if d.cfg.Log != nil {
		d.cfg.Log.AddSystem(text)
	}
}

func (d *Dispatcher) setAwaiting(v bool) {
	if d.cfg.Log != nil {
		d.cfg.Log.SetAwaiting(v)
	}
}

func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%q", err.Error()))
	}
	return "```json\n" + string(data) + "\n```"
}
