package grounding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

const backendREST = "rest"

// REST calls generateContent over plain HTTP.
type REST struct {
	apiKey string
	opts   options
}

// NewREST creates a REST grounding client.
func NewREST(apiKey string, opts ...Option) *REST {
	return &REST{apiKey: apiKey, opts: buildOptions(opts)}
}

type restRequest struct {
	Contents          []types.Content      `json:"contents"`
	SystemInstruction *types.Content       `json:"system_instruction,omitempty"`
	Tools             []restTool           `json:"tools"`
	ToolConfig        *restToolConfig      `json:"toolConfig,omitempty"`
	GenerationConfig  restGenerationConfig `json:"generationConfig"`
}

type restTool struct {
	GoogleMaps *restGoogleMaps `json:"google_maps,omitempty"`
}

type restGoogleMaps struct {
	EnableWidget bool `json:"enableWidget,omitempty"`
}

type restToolConfig struct {
	RetrievalConfig restRetrievalConfig `json:"retrievalConfig"`
}

type restRetrievalConfig struct {
	LatLng restLatLng `json:"latLng"`
}

type restLatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type restGenerationConfig struct {
	ThinkingConfig restThinkingConfig `json:"thinkingConfig"`
}

type restThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

func buildRESTRequest(req Request) *restRequest {
	system := types.TextContent("", SystemPrompt)
	body := &restRequest{
		Contents:          []types.Content{{Parts: []types.Part{{Text: req.Prompt}}}},
		SystemInstruction: &system,
		Tools:             []restTool{{GoogleMaps: &restGoogleMaps{EnableWidget: req.EnableWidget}}},
	}
	if req.HasLocation() {
		body.ToolConfig = &restToolConfig{RetrievalConfig: restRetrievalConfig{
			LatLng: restLatLng{Latitude: *req.Lat, Longitude: *req.Lng},
		}}
	}
	return body
}

// Ground sends one grounded query.
func (c *REST) Ground(ctx context.Context, req Request) (*types.GroundedResponse, error) {
	start := time.Now()
	resp, err := c.ground(ctx, req)
	c.opts.metrics.RecordGrounding(backendREST, outcome(err), time.Since(start))
	if err != nil {
		c.opts.logger.Warn("grounding request failed", "backend", backendREST, "model", c.opts.model, "error", err)
		return nil, err
	}
	c.opts.logger.Debug("grounding request done", "backend", backendREST, "chunks", len(resp.Chunks()), "duration", time.Since(start))
	return resp, nil
}

func (c *REST) ground(ctx context.Context, req Request) (*types.GroundedResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, &Error{Type: ErrAuthentication, Message: "missing API key"}
	}
	respBody, err := c.doRequest(ctx, buildRESTRequest(req))
	if err != nil {
		return nil, err
	}
	var out types.GroundedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func (c *REST) endpoint() string {
	base := strings.TrimRight(c.opts.baseURL, "/")
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, url.PathEscape(c.opts.model), url.QueryEscape(c.apiKey))
}

func (c *REST) doRequest(ctx context.Context, req *restRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.httpClient.Do(httpReq)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			// url.Error repeats the URL, which carries the key.
			err = uerr.Err
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp, respBody)
	}
	return respBody, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return string(gerr.Type)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "transport_error"
}
