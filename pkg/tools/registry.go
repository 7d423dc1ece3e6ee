// Package tools holds the client-executed tools offered to the live model and
// the dispatcher that answers tool-call batches.
package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

// Handler executes one call. The returned value becomes the "result" field of
// the function response.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a declaration plus its handler.
type Tool struct {
	Declaration types.FunctionDeclaration
	Scheduling  string
	Enabled     bool
	Handler     Handler
}

func (t Tool) Name() string { return t.Declaration.Name }

// ExportedTool is the tool entry of a transcript export.
type ExportedTool struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Parameters  *types.Schema `json:"parameters,omitempty"`
	IsEnabled   bool          `json:"isEnabled"`
	Scheduling  string        `json:"scheduling,omitempty"`
}

// Registry is the ordered set of tools known to the client.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Tool, len(tools))}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds tool. Names must be unique and non-empty.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fmt.Errorf("tool name must be non-empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("duplicate tool %q", name)
	}
	t := tool
	r.byName[name] = &t
	r.order = append(r.order, name)
	return nil
}

// SetEnabled toggles a tool for the next connection.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	t.Enabled = enabled
	return nil
}

// Lookup returns an enabled tool. Disabled tools were never declared to the
// model and are treated as unknown.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[strings.TrimSpace(name)]
	if !ok || !t.Enabled {
		return Tool{}, false
	}
	return *t, true
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Declarations returns the enabled declarations in registration order.
func (r *Registry) Declarations() []types.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		if t := r.byName[name]; t.Enabled {
			out = append(out, t.Declaration)
		}
	}
	return out
}

func (r *Registry) Export() []ExportedTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ExportedTool, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name]
		out = append(out, ExportedTool{
			Name:        t.Declaration.Name,
			Description: t.Declaration.Description,
			Parameters:  t.Declaration.Parameters,
			IsEnabled:   t.Enabled,
			Scheduling:  t.Scheduling,
		})
	}
	return out
}
