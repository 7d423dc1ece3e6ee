package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

// --- Server -> client ---

type Transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type ServerContent struct {
	ModelTurn           *types.Content           `json:"modelTurn,omitempty"`
	TurnComplete        bool                     `json:"turnComplete,omitempty"`
	GenerationComplete  bool                     `json:"generationComplete,omitempty"`
	Interrupted         bool                     `json:"interrupted,omitempty"`
	GroundingMetadata   *types.GroundingMetadata `json:"groundingMetadata,omitempty"`
	InputTranscription  *Transcription           `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription           `json:"outputTranscription,omitempty"`
}

type ToolCall struct {
	FunctionCalls []types.FunctionCall `json:"functionCalls"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// ServerMessage is one decoded inbound frame. Exactly one top-level field is
// normally populated.
type ServerMessage struct {
	SetupComplete           *struct{}             `json:"setupComplete,omitempty"`
	ServerContent           *ServerContent        `json:"serverContent,omitempty"`
	ToolCall                *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation    *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway                  *GoAway               `json:"goAway,omitempty"`
	UsageMetadata           json.RawMessage       `json:"usageMetadata,omitempty"`
	SessionResumptionUpdate json.RawMessage       `json:"sessionResumptionUpdate,omitempty"`
}

// DecodeServerMessage parses one inbound frame. Frames that are not JSON objects
// fail with code "malformed"; objects with no recognised field fail with
// code "unknown_message".
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, malformed("frame is not a JSON object", "")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, malformed("invalid JSON: "+err.Error(), "")
	}
	recognised := false
	for _, key := range []string{"setupComplete", "serverContent", "toolCall", "toolCallCancellation", "goAway", "usageMetadata", "sessionResumptionUpdate"} {
		if _, ok := raw[key]; ok {
			recognised = true
			break
		}
	}
	if !recognised {
		param := ""
		for k := range raw {
			param = k
			break
		}
		return nil, unknownMessage("unrecognised server message", param)
	}

	var msg ServerMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, malformed("invalid message shape: "+err.Error(), "")
	}
	if _, ok := raw["setupComplete"]; ok && msg.SetupComplete == nil {
		// "setupComplete": null still marks setup as accepted.
		msg.SetupComplete = &struct{}{}
	}
	return &msg, nil
}
