package types

import (
	"encoding/base64"
	"strings"
)

// Roles used on the wire.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Part is one element of a Content. Exactly one of Text or InlineData is expected.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
	Thought    bool   `json:"thought,omitempty"`
}

// Blob carries base64 encoded media.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewBlob encodes raw bytes into a Blob.
func NewBlob(mimeType string, data []byte) Blob {
	return Blob{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}
}

// Bytes decodes the blob payload.
func (b Blob) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(b.Data)
}

// IsAudio reports whether the blob is PCM audio.
func (b Blob) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(b.MIMEType)), "audio/pcm")
}

// TextContent builds a single-part text Content.
func TextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// Text joins the non-thought text parts with a single space.
func (c Content) Text() string {
	var texts []string
	for _, p := range c.Parts {
		if p.Thought || p.Text == "" {
			continue
		}
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, " ")
}
