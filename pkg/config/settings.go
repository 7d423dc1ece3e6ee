package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-maps-live/pkg/live"
)

// Settings are the user-editable session preferences. They apply to the next
// connection; an open connection keeps the configuration it started with.
type Settings struct {
	Model        string          `yaml:"model,omitempty"`
	Voice        string          `yaml:"voice,omitempty"`
	SystemPrompt string          `yaml:"system_prompt,omitempty"`
	Tools        map[string]bool `yaml:"tools,omitempty"`
	SpeakerGain  *float64        `yaml:"speaker_gain,omitempty"`
	ShowSystem   *bool           `yaml:"show_system,omitempty"`
}

// LoadSettings reads a YAML settings file. Unknown keys are rejected. A
// missing file yields zero Settings.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(data)
}

func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.Voice != "" && !live.IsKnownVoice(s.Voice) {
		return fmt.Errorf("settings: voice %q is not an available voice", s.Voice)
	}
	if s.SpeakerGain != nil && (*s.SpeakerGain < 0 || *s.SpeakerGain > 1) {
		return fmt.Errorf("settings: speaker_gain must be between 0 and 1")
	}
	return nil
}

// Overlay returns s with empty fields taken from cfg.
func (s Settings) Overlay(cfg Config) Settings {
	out := s
	if out.Model == "" {
		out.Model = cfg.Model
	}
	if out.Voice == "" {
		out.Voice = cfg.Voice
	}
	if out.SpeakerGain == nil {
		g := cfg.SpeakerGain
		out.SpeakerGain = &g
	}
	if len(cfg.DisabledTools) > 0 {
		tools := make(map[string]bool, len(s.Tools)+len(cfg.DisabledTools))
		for _, name := range cfg.DisabledTools {
			tools[name] = false
		}
		for name, enabled := range s.Tools {
			tools[name] = enabled
		}
		out.Tools = tools
	}
	return out
}

// Store holds the current Settings and notifies watchers on change.
type Store struct {
	mu    sync.RWMutex
	cur   Settings
	watch []func(Settings)
}

func NewStore(initial Settings) *Store {
	return &Store{cur: initial}
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Store) Set(next Settings) {
	s.mu.Lock()
	s.cur = next
	watch := slices.Clone(s.watch)
	s.mu.Unlock()
	for _, fn := range watch {
		fn(next)
	}
}

func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	s.watch = append(s.watch, fn)
	s.mu.Unlock()
}
