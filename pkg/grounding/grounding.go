// Package grounding asks a text model for place recommendations grounded in
// Google Maps data. Two backends are provided: a plain REST client (the
// default) and one built on the genai SDK.
package grounding

import (
	"context"
	"strings"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

const (
	// DefaultBaseURL is the generative language REST root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel answers grounded queries.
	DefaultModel = "gemini-2.5-flash"

	// SystemPrompt keeps grounded answers short and list-shaped.
	SystemPrompt = "You are a helpful assistant that provides concise answers based on the user's query. Return between 3 results. Provide the name and a concise one line descriptoin that highlight a unique, interesting, fun aspect about the place. Optionally, mention ratings if they are above 4.0 and do not state addresses. "
)

// Request is one grounded query. Lat and Lng bias retrieval when both are set.
type Request struct {
	Prompt       string
	Lat          *float64
	Lng          *float64
	EnableWidget bool
}

// HasLocation reports whether the request carries a retrieval location.
func (r Request) HasLocation() bool { return r.Lat != nil && r.Lng != nil }

// Client performs grounded queries.
type Client interface {
	Ground(ctx context.Context, req Request) (*types.GroundedResponse, error)
}

func validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &Error{Type: ErrInvalidRequest, Message: "prompt must not be empty"}
	}
	return nil
}
