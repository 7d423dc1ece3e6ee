package live

import (
	"log/slog"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
	"github.com/vango-go/vai-maps-live/pkg/live/protocol"
)

// demux turns one decoded server message into events, in delivery order.
//
// A serverContent that reports an interruption yields only the interrupted
// event. Otherwise the order is: input transcription, output transcription,
// one audio event per inline PCM part, one content event for the remaining
// parts and grounding, turn-complete, generation-complete.
func demux(msg *protocol.ServerMessage, logger *slog.Logger) []Event {
	if msg == nil {
		return nil
	}
	var events []Event

	if msg.SetupComplete != nil {
		events = append(events, SetupCompleteEvent{})
	}
	if msg.ToolCall != nil {
		calls := append([]types.FunctionCall(nil), msg.ToolCall.FunctionCalls...)
		events = append(events, ToolCallEvent{Calls: calls})
	}

	sc := msg.ServerContent
	if sc == nil {
		return events
	}
	if sc.Interrupted {
		return append(events, InterruptedEvent{})
	}

	if sc.InputTranscription != nil {
		events = append(events, InputTranscriptionEvent{
			Text:    sc.InputTranscription.Text,
			IsFinal: sc.InputTranscription.Finished,
		})
	}
	if sc.OutputTranscription != nil {
		events = append(events, OutputTranscriptionEvent{
			Text:    sc.OutputTranscription.Text,
			IsFinal: sc.OutputTranscription.Finished,
		})
	}

	var rest []types.Part
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && part.InlineData.IsAudio() {
				pcm, err := part.InlineData.Bytes()
				if err != nil {
					if logger != nil {
						logger.Warn("dropping undecodable audio part", "mime_type", part.InlineData.MIMEType, "error", err)
					}
					continue
				}
				events = append(events, AudioEvent{MIMEType: part.InlineData.MIMEType, Data: pcm})
				continue
			}
			rest = append(rest, part)
		}
	}
	if len(rest) > 0 || hasChunks(sc.GroundingMetadata) {
		content := types.Content{Parts: rest}
		events = append(events, ContentEvent{
			Text:      content.Text(),
			Parts:     rest,
			Grounding: sc.GroundingMetadata,
		})
	}

	if sc.TurnComplete {
		events = append(events, TurnCompleteEvent{})
	}
	if sc.GenerationComplete {
		events = append(events, GenerationCompleteEvent{})
	}
	return events
}

func hasChunks(md *types.GroundingMetadata) bool {
	return md != nil && len(md.GroundingChunks) > 0
}
