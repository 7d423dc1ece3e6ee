package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

func TestNewAudioInput_WireShape(t *testing.T) {
	msg := NewAudioInput("", []byte{1, 2, 3, 4})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]map[string]map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	audio := decoded["realtimeInput"]["audio"]
	if audio["mimeType"] != "audio/pcm;rate=16000" {
		t.Fatalf("mimeType=%q", audio["mimeType"])
	}
	if audio["data"] != base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}) {
		t.Fatalf("data=%q", audio["data"])
	}
}

func TestNewToolResponse_WireShape(t *testing.T) {
	msg := NewToolResponse([]types.FunctionResponse{{
		ID:       "1",
		Name:     "displayCityOnMap",
		Response: map[string]any{"result": "ok"},
	}})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"toolResponse":{"functionResponses":[{"id":"1","name":"displayCityOnMap","response":{"result":"ok"}}]}}`
	if string(data) != want {
		t.Fatalf("got %s\nwant %s", data, want)
	}

	empty, _ := json.Marshal(NewToolResponse(nil))
	if !strings.Contains(string(empty), `"functionResponses":[]`) {
		t.Fatalf("empty batch=%s", empty)
	}
}

func TestNewUserTurn_WireShape(t *testing.T) {
	data, err := json.Marshal(NewUserTurn("hello"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"clientContent":{"turns":[{"role":"user","parts":[{"text":"hello"}]}],"turnComplete":true}}`
	if string(data) != want {
		t.Fatalf("got %s", data)
	}
}

func TestModelResourceName(t *testing.T) {
	cases := map[string]string{
		"gemini-live-2.5-flash-preview":        "models/gemini-live-2.5-flash-preview",
		"models/gemini-live-2.5-flash-preview": "models/gemini-live-2.5-flash-preview",
		"":                                     "",
	}
	for in, want := range cases {
		if got := ModelResourceName(in); got != want {
			t.Fatalf("ModelResourceName(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestDecodeServerMessage_ServerContent(t *testing.T) {
	raw := `{"serverContent":{
		"modelTurn":{"parts":[{"text":"Hi "},{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAE="}}]},
		"groundingMetadata":{"groundingChunks":[{"maps":{"uri":"https://maps.example/p","title":"Cafe","placeId":"places/abc"}}]},
		"outputTranscription":{"text":"Hi","finished":true},
		"turnComplete":true
	}}`
	msg, err := DecodeServerMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sc := msg.ServerContent
	if sc == nil || sc.ModelTurn == nil || len(sc.ModelTurn.Parts) != 2 {
		t.Fatalf("server content=%+v", sc)
	}
	if !sc.TurnComplete {
		t.Fatalf("expected turnComplete")
	}
	if sc.OutputTranscription == nil || !sc.OutputTranscription.Finished {
		t.Fatalf("output transcription=%+v", sc.OutputTranscription)
	}
	chunks := sc.GroundingMetadata.GroundingChunks
	if len(chunks) != 1 || chunks[0].PlaceID() != "abc" {
		t.Fatalf("chunks=%+v", chunks)
	}
}

func TestDecodeServerMessage_SetupCompleteAndToolCall(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"setupComplete":{}}`))
	if err != nil || msg.SetupComplete == nil {
		t.Fatalf("setupComplete msg=%+v err=%v", msg, err)
	}
	msg, err = DecodeServerMessage([]byte(`{"setupComplete":null}`))
	if err != nil || msg.SetupComplete == nil {
		t.Fatalf("null setupComplete msg=%+v err=%v", msg, err)
	}

	msg, err = DecodeServerMessage([]byte(`{"toolCall":{"functionCalls":[{"id":"1","name":"displayCityOnMap","args":{"lat":41.87,"lng":-87.64}}]}}`))
	if err != nil {
		t.Fatalf("decode tool call: %v", err)
	}
	calls := msg.ToolCall.FunctionCalls
	if len(calls) != 1 || calls[0].ID != "1" || calls[0].Args["lat"].(float64) != 41.87 {
		t.Fatalf("calls=%+v", calls)
	}
}

func TestDecodeServerMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{name: "not json", raw: "garbage", code: "malformed"},
		{name: "array", raw: `[1,2]`, code: "malformed"},
		{name: "broken object", raw: `{"serverContent":`, code: "malformed"},
		{name: "wrong field type", raw: `{"toolCall":{"functionCalls":"nope"}}`, code: "malformed"},
		{name: "unknown", raw: `{"somethingNew":{}}`, code: "unknown_message"},
		{name: "empty object", raw: `{}`, code: "unknown_message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServerMessage([]byte(tt.raw))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err=%v, want *DecodeError", err)
			}
			if de.Code != tt.code {
				t.Fatalf("code=%q, want %q", de.Code, tt.code)
			}
		})
	}
}
