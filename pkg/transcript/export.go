package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// ExportConfig is the session configuration recorded alongside the log.
type ExportConfig struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
	Voice        string `json:"voice"`
}

type exportTurn struct {
	Turn
	Timestamp string `json:"timestamp"`
}

type exportDoc struct {
	Configuration ExportConfig `json:"configuration"`
	Tools         any          `json:"tools"`
	Conversation  []exportTurn `json:"conversation"`
}

// Export writes the transcript as an indented JSON document. tools is
// serialised as given.
func (t *Transcript) Export(w io.Writer, cfg ExportConfig, tools any) error {
	turns := t.Turns()
	doc := exportDoc{Configuration: cfg, Tools: tools, Conversation: make([]exportTurn, len(turns))}
	for i, turn := range turns {
		doc.Conversation[i] = exportTurn{Turn: turn, Timestamp: isoTimestamp(turn.Timestamp)}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return nil
}

// ExportFile writes the export into dir under ExportFilename(now) and returns
// the path.
func (t *Transcript) ExportFile(dir string, now time.Time, cfg ExportConfig, tools any) (string, error) {
	path := filepath.Join(dir, ExportFilename(now))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := t.Export(f, cfg, tools); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// ExportFilename is live-api-logs-<ISO timestamp with ':' and '.' as '-'>.json.
func ExportFilename(now time.Time) string {
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(isoTimestamp(now))
	return "live-api-logs-" + ts + ".json"
}

func isoTimestamp(ts time.Time) string {
	return ts.UTC().Format(isoMillis)
}
