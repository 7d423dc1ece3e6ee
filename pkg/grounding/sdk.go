package grounding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

const backendSDK = "sdk"

// SDK performs grounded queries through the genai client.
type SDK struct {
	client *genai.Client
	opts   options
}

// NewSDK creates a genai-backed client for the Gemini API backend.
func NewSDK(ctx context.Context, apiKey string, opts ...Option) (*SDK, error) {
	o := buildOptions(opts)
	if strings.TrimSpace(apiKey) == "" {
		return nil, &Error{Type: ErrAuthentication, Message: "missing API key"}
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.baseURL != DefaultBaseURL {
		root, version := splitBaseURL(o.baseURL)
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: root, APIVersion: version}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &SDK{client: client, opts: o}, nil
}

// splitBaseURL turns ".../v1beta" into the root and version the SDK expects.
func splitBaseURL(base string) (root, version string) {
	base = strings.TrimRight(base, "/")
	if i := strings.LastIndex(base, "/"); i > len("https://") {
		if last := base[i+1:]; strings.HasPrefix(last, "v1") {
			return base[:i+1], last
		}
	}
	return base + "/", ""
}

func buildSDKConfig(req Request) *genai.GenerateContentConfig {
	maps := &genai.GoogleMaps{}
	if req.EnableWidget {
		maps.EnableWidget = genai.Ptr(true)
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Tools:             []*genai.Tool{{GoogleMaps: maps}},
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
	if req.HasLocation() {
		cfg.ToolConfig = &genai.ToolConfig{RetrievalConfig: &genai.RetrievalConfig{
			LatLng: &genai.LatLng{Latitude: genai.Ptr(*req.Lat), Longitude: genai.Ptr(*req.Lng)},
		}}
	}
	return cfg
}

// Ground sends one grounded query.
func (c *SDK) Ground(ctx context.Context, req Request) (*types.GroundedResponse, error) {
	start := time.Now()
	resp, err := c.ground(ctx, req)
	c.opts.metrics.RecordGrounding(backendSDK, outcome(err), time.Since(start))
	if err != nil {
		c.opts.logger.Warn("grounding request failed", "backend", backendSDK, "model", c.opts.model, "error", err)
		return nil, err
	}
	return resp, nil
}

func (c *SDK) ground(ctx context.Context, req Request) (*types.GroundedResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.opts.model, genai.Text(req.Prompt), buildSDKConfig(req))
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, newError(apiErr.Code, apiErr.Status, apiErr.Message)
		}
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return fromGenAI(resp), nil
}

// fromGenAI keeps the parts of the SDK response the application consumes.
func fromGenAI(resp *genai.GenerateContentResponse) *types.GroundedResponse {
	if resp == nil {
		return &types.GroundedResponse{}
	}
	out := &types.GroundedResponse{ModelVersion: resp.ModelVersion}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		c := types.Candidate{FinishReason: string(cand.FinishReason)}
		if cand.Content != nil {
			c.Content.Role = cand.Content.Role
			for _, p := range cand.Content.Parts {
				if p == nil || p.Text == "" {
					continue
				}
				c.Content.Parts = append(c.Content.Parts, types.Part{Text: p.Text, Thought: p.Thought})
			}
		}
		if md := cand.GroundingMetadata; md != nil {
			c.GroundingMetadata = &types.GroundingMetadata{
				GoogleMapsWidgetContextToken: md.GoogleMapsWidgetContextToken,
				WebSearchQueries:             md.WebSearchQueries,
			}
			for _, ch := range md.GroundingChunks {
				if ch == nil {
					continue
				}
				var chunk types.GroundingChunk
				if ch.Web != nil {
					chunk.Web = &types.GroundingSource{URI: ch.Web.URI, Title: ch.Web.Title}
				}
				if ch.Maps != nil {
					chunk.Maps = &types.MapsSource{URI: ch.Maps.URI, Title: ch.Maps.Title, PlaceID: ch.Maps.PlaceID, Text: ch.Maps.Text}
				}
				c.GroundingMetadata.GroundingChunks = append(c.GroundingMetadata.GroundingChunks, chunk)
			}
		}
		out.Candidates = append(out.Candidates, c)
	}
	if u := resp.UsageMetadata; u != nil {
		out.UsageMetadata = &types.UsageMetadata{
			PromptTokenCount:     int(u.PromptTokenCount),
			CandidatesTokenCount: int(u.CandidatesTokenCount),
			TotalTokenCount:      int(u.TotalTokenCount),
		}
	}
	return out
}
