package types

import "strings"

// GroundingSource is a web citation.
type GroundingSource struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

// MapsSource is a place citation returned by maps grounding.
type MapsSource struct {
	URI     string `json:"uri,omitempty"`
	Title   string `json:"title,omitempty"`
	PlaceID string `json:"placeId,omitempty"`
	Text    string `json:"text,omitempty"`
}

// GroundingChunk is one citation attached to model output.
type GroundingChunk struct {
	Web  *GroundingSource `json:"web,omitempty"`
	Maps *MapsSource      `json:"maps,omitempty"`
}

// Source returns the displayable uri/title of the chunk, preferring web over maps.
func (c GroundingChunk) Source() (uri, title string, ok bool) {
	switch {
	case c.Web != nil && c.Web.URI != "":
		uri, title = c.Web.URI, c.Web.Title
	case c.Maps != nil && c.Maps.URI != "":
		uri, title = c.Maps.URI, c.Maps.Title
	default:
		return "", "", false
	}
	if title == "" {
		title = uri
	}
	return uri, title, true
}

// PlaceID returns the bare place id of a maps chunk ("places/" prefix removed).
func (c GroundingChunk) PlaceID() string {
	if c.Maps == nil {
		return ""
	}
	return strings.TrimPrefix(c.Maps.PlaceID, "places/")
}

// TextSegment locates a span of response text.
type TextSegment struct {
	PartIndex  int    `json:"partIndex,omitempty"`
	StartIndex int    `json:"startIndex,omitempty"`
	EndIndex   int    `json:"endIndex,omitempty"`
	Text       string `json:"text,omitempty"`
}

// GroundingSupport ties a text segment to chunk indices.
type GroundingSupport struct {
	Segment               *TextSegment `json:"segment,omitempty"`
	GroundingChunkIndices []int        `json:"groundingChunkIndices,omitempty"`
	ConfidenceScores      []float64    `json:"confidenceScores,omitempty"`
}

// GroundingMetadata is the grounding block of a candidate or live content message.
type GroundingMetadata struct {
	GroundingChunks              []GroundingChunk   `json:"groundingChunks,omitempty"`
	GroundingSupports            []GroundingSupport `json:"groundingSupports,omitempty"`
	WebSearchQueries             []string           `json:"webSearchQueries,omitempty"`
	GoogleMapsWidgetContextToken string             `json:"googleMapsWidgetContextToken,omitempty"`
}

// Candidate is one generated alternative.
type Candidate struct {
	Content           Content            `json:"content"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// UsageMetadata reports token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// GroundedResponse is the subset of a generateContent response the client consumes.
type GroundedResponse struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

// Text returns the text of the first candidate.
func (r *GroundedResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Text()
}

// Metadata returns the grounding metadata of the first candidate.
func (r *GroundedResponse) Metadata() *GroundingMetadata {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].GroundingMetadata
}

// Chunks returns the grounding chunks of the first candidate.
func (r *GroundedResponse) Chunks() []GroundingChunk {
	if md := r.Metadata(); md != nil {
		return md.GroundingChunks
	}
	return nil
}

// WidgetToken returns the maps widget context token, if any.
func (r *GroundedResponse) WidgetToken() string {
	if md := r.Metadata(); md != nil {
		return md.GoogleMapsWidgetContextToken
	}
	return ""
}
