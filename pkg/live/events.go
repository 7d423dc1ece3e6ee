package live

import (
	"fmt"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

// EventKind names an inbound event class.
type EventKind string

const (
	EventOpen                EventKind = "open"
	EventClose               EventKind = "close"
	EventError               EventKind = "error"
	EventSetupComplete       EventKind = "setup-complete"
	EventInterrupted         EventKind = "interrupted"
	EventAudio               EventKind = "audio"
	EventContent             EventKind = "content"
	EventInputTranscription  EventKind = "input-transcription"
	EventOutputTranscription EventKind = "output-transcription"
	EventToolCall            EventKind = "tool-call"
	EventTurnComplete        EventKind = "turn-complete"
	EventGenerationComplete  EventKind = "generation-complete"
)

// EventKinds lists every kind in declaration order.
var EventKinds = []EventKind{
	EventOpen, EventClose, EventError, EventSetupComplete, EventInterrupted, EventAudio,
	EventContent, EventInputTranscription, EventOutputTranscription, EventToolCall,
	EventTurnComplete, EventGenerationComplete,
}

// Event is delivered to subscribers of its Kind.
type Event interface {
	Kind() EventKind
}

type OpenEvent struct {
	SessionID string
}

func (OpenEvent) Kind() EventKind { return EventOpen }

type CloseEvent struct {
	SessionID string
	Code      int
	Reason    string
}

func (CloseEvent) Kind() EventKind { return EventClose }

type ErrorEvent struct {
	SessionID string
	Err       error
}

func (ErrorEvent) Kind() EventKind { return EventError }

func (e ErrorEvent) String() string { return fmt.Sprintf("session %s: %v", e.SessionID, e.Err) }

type SetupCompleteEvent struct{}

func (SetupCompleteEvent) Kind() EventKind { return EventSetupComplete }

// InterruptedEvent means the in-flight model turn was cut short; playback must flush.
type InterruptedEvent struct{}

func (InterruptedEvent) Kind() EventKind { return EventInterrupted }

// AudioEvent carries decoded PCM16 from the model.
type AudioEvent struct {
	MIMEType string
	Data     []byte
}

func (AudioEvent) Kind() EventKind { return EventAudio }

// ContentEvent is a content delta: text parts and/or grounding citations.
type ContentEvent struct {
	Text      string
	Parts     []types.Part
	Grounding *types.GroundingMetadata
}

func (ContentEvent) Kind() EventKind { return EventContent }

// GroundingChunks returns the chunks of the delta, if any.
func (e ContentEvent) GroundingChunks() []types.GroundingChunk {
	if e.Grounding == nil {
		return nil
	}
	return e.Grounding.GroundingChunks
}

type InputTranscriptionEvent struct {
	Text    string
	IsFinal bool
}

func (InputTranscriptionEvent) Kind() EventKind { return EventInputTranscription }

type OutputTranscriptionEvent struct {
	Text    string
	IsFinal bool
}

func (OutputTranscriptionEvent) Kind() EventKind { return EventOutputTranscription }

// ToolCallEvent carries one batch of tool-call requests.
type ToolCallEvent struct {
	Calls []types.FunctionCall
}

func (ToolCallEvent) Kind() EventKind { return EventToolCall }

type TurnCompleteEvent struct{}

func (TurnCompleteEvent) Kind() EventKind { return EventTurnComplete }

type GenerationCompleteEvent struct{}

func (GenerationCompleteEvent) Kind() EventKind { return EventGenerationComplete }
