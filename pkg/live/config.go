package live

import (
	"strings"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
	"github.com/vango-go/vai-maps-live/pkg/live/protocol"
)

const (
	DefaultModel = "gemini-live-2.5-flash-preview"
	DefaultVoice = "Zephyr"
)

// AvailableVoices are the prebuilt voices accepted by the live model.
var AvailableVoices = []string{
	"Zephyr", "Puck", "Charon", "Luna", "Nova", "Kore", "Fenrir", "Leda", "Orus", "Aoede",
	"Callirrhoe", "Autonoe", "Enceladus", "Iapetus", "Umbriel", "Algieba", "Despina",
	"Erinome", "Algenib", "Rasalgethi", "Laomedeia", "Achernar", "Alnilam", "Schedar",
	"Gacrux", "Pulcherrima", "Achird", "Zubenelgenubi", "Vindemiatrix", "Sadachbia",
	"Sadaltager", "Sulafat",
}

// IsKnownVoice reports whether name is one of AvailableVoices (case-insensitive).
func IsKnownVoice(name string) bool {
	for _, v := range AvailableVoices {
		if strings.EqualFold(v, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// Config is the per-connection configuration. It is captured by Connect and
// never changes for the lifetime of that connection.
type Config struct {
	Model              string
	Voice              string
	SystemInstruction  string
	Tools              []types.FunctionDeclaration
	ResponseModalities []string

	InputTranscription  bool
	OutputTranscription bool

	// ThinkingBudget is sent when non-nil; the itinerary agent uses 0.
	ThinkingBudget *int
}

// Setup renders the first wire message of a connection.
func (c Config) Setup() protocol.Setup {
	model := c.Model
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	modalities := c.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{protocol.ModalityAudio}
	}

	gen := &protocol.GenerationConfig{ResponseModalities: append([]string(nil), modalities...)}
	if voice := strings.TrimSpace(c.Voice); voice != "" {
		gen.SpeechConfig = &protocol.SpeechConfig{
			VoiceConfig: &protocol.VoiceConfig{
				PrebuiltVoiceConfig: &protocol.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if c.ThinkingBudget != nil {
		budget := *c.ThinkingBudget
		gen.ThinkingConfig = &protocol.ThinkingConfig{ThinkingBudget: &budget}
	}

	setup := protocol.Setup{
		Model:            protocol.ModelResourceName(model),
		GenerationConfig: gen,
	}
	if strings.TrimSpace(c.SystemInstruction) != "" {
		content := types.Content{Parts: []types.Part{{Text: c.SystemInstruction}}}
		setup.SystemInstruction = &content
	}
	// One tool entry per declaration.
	for _, decl := range c.Tools {
		setup.Tools = append(setup.Tools, protocol.Tool{FunctionDeclarations: []types.FunctionDeclaration{decl}})
	}
	if c.InputTranscription {
		setup.InputAudioTranscription = &protocol.AudioTranscriptionConfig{}
	}
	if c.OutputTranscription {
		setup.OutputAudioTranscription = &protocol.AudioTranscriptionConfig{}
	}
	return setup
}
