package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseSettings(t *testing.T) {
	t.Parallel()

	s, err := ParseSettings([]byte(`
model: gemini-live-2.5-flash-preview
voice: Kore
system_prompt: plan a day
tools:
  mapsGrounding: false
speaker_gain: 0.25
show_system: true
`))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.Voice != "Kore" || s.SystemPrompt != "plan a day" || s.Tools["mapsGrounding"] {
		t.Fatalf("settings = %+v", s)
	}
	if s.SpeakerGain == nil || *s.SpeakerGain != 0.25 || s.ShowSystem == nil || !*s.ShowSystem {
		t.Fatalf("settings = %+v", s)
	}

	if empty, err := ParseSettings(nil); err != nil || empty.Voice != "" {
		t.Fatalf("empty settings = %+v, %v", empty, err)
	}
}

func TestParseSettings_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown field": "colour: blue\n",
		"bad voice":     "voice: Robot\n",
		"gain too high": "speaker_gain: 2\n",
		"not yaml":      "voice: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseSettings([]byte(doc)); err == nil {
				t.Fatalf("expected error for %q", doc)
			}
		})
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	t.Parallel()

	s, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || s.Model != "" {
		t.Fatalf("LoadSettings = %+v, %v", s, err)
	}
}

func TestOverlay(t *testing.T) {
	t.Parallel()

	base := Config{Model: "m", Voice: "Zephyr", SpeakerGain: 0.8, DisabledTools: []string{"a", "b"}}
	out := Settings{Voice: "Kore", Tools: map[string]bool{"b": true}}.Overlay(base)
	if out.Model != "m" || out.Voice != "Kore" || *out.SpeakerGain != 0.8 {
		t.Fatalf("overlay = %+v", out)
	}
	if out.Tools["a"] || !out.Tools["b"] {
		t.Fatalf("tools = %v", out.Tools)
	}
}

func TestStoreNotifies(t *testing.T) {
	t.Parallel()

	store := NewStore(Settings{Voice: "Zephyr"})
	var got []string
	store.OnChange(func(s Settings) { got = append(got, s.Voice) })
	store.Set(Settings{Voice: "Puck"})
	if store.Get().Voice != "Puck" || strings.Join(got, ",") != "Puck" {
		t.Fatalf("store = %+v, notified = %v", store.Get(), got)
	}
}

func TestWatchSettings_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	store := NewStore(Settings{})
	changed := make(chan Settings, 16)
	store.OnChange(func(s Settings) { changed <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchSettings(ctx, path, Config{Model: "base"}, store, nil) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("WatchSettings: %v", err)
		}
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(150 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case s := <-changed:
			if s.Voice != "Puck" || s.Model != "base" {
				t.Fatalf("reloaded settings = %+v", s)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher, which may still be starting, sees it.
			if err := os.WriteFile(path, []byte("voice: Puck\n"), 0o600); err != nil {
				t.Fatalf("write settings: %v", err)
			}
		case <-deadline:
			t.Fatal("settings were not reloaded")
		}
	}
}
