package protocol

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

const (
	ModalityAudio = "AUDIO"
	ModalityText  = "TEXT"

	// InputAudioMIMEType is the format of outbound microphone audio.
	InputAudioMIMEType = "audio/pcm;rate=16000"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func malformed(message, param string) *DecodeError {
	return &DecodeError{Code: "malformed", Message: message, Param: param}
}

func unknownMessage(message, param string) *DecodeError {
	return &DecodeError{Code: "unknown_message", Message: message, Param: param}
}

// --- Client -> server ---

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig  *VoiceConfig `json:"voiceConfig,omitempty"`
	LanguageCode string       `json:"languageCode,omitempty"`
}

type ThinkingConfig struct {
	ThinkingBudget *int `json:"thinkingBudget,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig   `json:"speechConfig,omitempty"`
	ThinkingConfig     *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// AudioTranscriptionConfig is an empty object that switches transcription on.
type AudioTranscriptionConfig struct{}

type Tool struct {
	FunctionDeclarations []types.FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type Setup struct {
	Model                    string                    `json:"model"`
	GenerationConfig         *GenerationConfig         `json:"generationConfig,omitempty"`
	SystemInstruction        *types.Content            `json:"systemInstruction,omitempty"`
	Tools                    []Tool                    `json:"tools,omitempty"`
	InputAudioTranscription  *AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
}

type ClientSetup struct {
	Setup Setup `json:"setup"`
}

type RealtimeInput struct {
	Audio *types.Blob `json:"audio,omitempty"`
	Text  string      `json:"text,omitempty"`
}

type ClientRealtimeInput struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

type ClientContent struct {
	Turns        []types.Content `json:"turns,omitempty"`
	TurnComplete bool            `json:"turnComplete"`
}

type ClientClientContent struct {
	ClientContent ClientContent `json:"clientContent"`
}

type ToolResponse struct {
	FunctionResponses []types.FunctionResponse `json:"functionResponses"`
}

type ClientToolResponse struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

// ModelResourceName prefixes bare model ids with "models/".
func ModelResourceName(model string) string {
	model = strings.TrimSpace(model)
	if model == "" || strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "tunedModels/") {
		return model
	}
	return "models/" + model
}

// NewAudioInput wraps one PCM frame as a realtime audio message.
func NewAudioInput(mimeType string, pcm []byte) ClientRealtimeInput {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = InputAudioMIMEType
	}
	blob := types.NewBlob(mimeType, pcm)
	return ClientRealtimeInput{RealtimeInput: RealtimeInput{Audio: &blob}}
}

// NewRealtimeText wraps text as realtime input.
func NewRealtimeText(text string) ClientRealtimeInput {
	return ClientRealtimeInput{RealtimeInput: RealtimeInput{Text: text}}
}

// NewUserTurn wraps text as a complete user turn.
func NewUserTurn(text string) ClientClientContent {
	return ClientClientContent{ClientContent: ClientContent{
		Turns:        []types.Content{types.TextContent(types.RoleUser, text)},
		TurnComplete: true,
	}}
}

// NewToolResponse wraps a result batch.
func NewToolResponse(responses []types.FunctionResponse) ClientToolResponse {
	if responses == nil {
		responses = []types.FunctionResponse{}
	}
	return ClientToolResponse{ToolResponse: ToolResponse{FunctionResponses: responses}}
}
