// Package config loads the process configuration from the environment and
// the optional per-user settings file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-maps-live/pkg/grounding"
	"github.com/vango-go/vai-maps-live/pkg/live"
)

type GroundingBackend string

const (
	GroundingREST GroundingBackend = "rest"
	GroundingSDK  GroundingBackend = "sdk"
)

type Config struct {
	APIKey string

	// Live endpoint and per-connection defaults (overridable by settings).
	Endpoint string
	Model    string
	Voice    string

	GroundingBaseURL string
	GroundingModel   string
	GroundingBackend GroundingBackend
	GroundingWidget  bool

	// MapsAPIKey enables place and elevation lookups for camera framing.
	MapsAPIKey string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	SendBuffer     int

	ConcurrentTools bool
	DisabledTools   []string
	SpeakerGain     float64

	SettingsFile string
	ExportDir    string
	MetricsAddr  string // empty => disabled
	DatabaseURL  string // empty => archive disabled
	LogLevel     string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		APIKey:           envOr("GEMINI_API_KEY", envOr("GOOGLE_API_KEY", "")),
		Endpoint:         envOr("MAPS_LIVE_ENDPOINT", live.DefaultEndpoint),
		Model:            envOr("MAPS_LIVE_MODEL", live.DefaultModel),
		Voice:            envOr("MAPS_LIVE_VOICE", live.DefaultVoice),
		GroundingBaseURL: envOr("MAPS_LIVE_GROUNDING_BASE_URL", grounding.DefaultBaseURL),
		GroundingModel:   envOr("MAPS_LIVE_GROUNDING_MODEL", grounding.DefaultModel),
		GroundingBackend: GroundingBackend(strings.ToLower(envOr("MAPS_LIVE_GROUNDING_BACKEND", string(GroundingREST)))),
		GroundingWidget:  envBoolOr("MAPS_LIVE_GROUNDING_WIDGET", false),
		MapsAPIKey:       envOr("GOOGLE_MAPS_API_KEY", ""),
		ConnectTimeout:   envDurationOr("MAPS_LIVE_CONNECT_TIMEOUT", 15*time.Second),
		WriteTimeout:     envDurationOr("MAPS_LIVE_WRITE_TIMEOUT", 5*time.Second),
		PingInterval:     envDurationOr("MAPS_LIVE_PING_INTERVAL", 20*time.Second),
		SendBuffer:       envIntOr("MAPS_LIVE_SEND_BUFFER", 256),
		ConcurrentTools:  envBoolOr("MAPS_LIVE_CONCURRENT_TOOLS", false),
		DisabledTools:    splitCSV(os.Getenv("MAPS_LIVE_DISABLED_TOOLS")),
		SpeakerGain:      envFloat64Or("MAPS_LIVE_SPEAKER_GAIN", 1),
		SettingsFile:     envOr("MAPS_LIVE_SETTINGS_FILE", ""),
		ExportDir:        envOr("MAPS_LIVE_EXPORT_DIR", "."),
		MetricsAddr:      envOr("MAPS_LIVE_METRICS_ADDR", ""),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		LogLevel:         strings.ToLower(envOr("MAPS_LIVE_LOG_LEVEL", "info")),
	}

	switch cfg.GroundingBackend {
	case GroundingREST, GroundingSDK:
	default:
		return Config{}, fmt.Errorf("MAPS_LIVE_GROUNDING_BACKEND must be one of rest|sdk")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("MAPS_LIVE_LOG_LEVEL must be one of debug|info|warn|error")
	}
	if !live.IsKnownVoice(cfg.Voice) {
		return Config{}, fmt.Errorf("MAPS_LIVE_VOICE %q is not an available voice", cfg.Voice)
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("MAPS_LIVE_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("MAPS_LIVE_WRITE_TIMEOUT must be > 0")
	}
	if cfg.PingInterval < 0 {
		return Config{}, fmt.Errorf("MAPS_LIVE_PING_INTERVAL must be >= 0")
	}
	if cfg.SendBuffer <= 0 {
		return Config{}, fmt.Errorf("MAPS_LIVE_SEND_BUFFER must be > 0")
	}
	if cfg.SpeakerGain < 0 || cfg.SpeakerGain > 1 {
		return Config{}, fmt.Errorf("MAPS_LIVE_SPEAKER_GAIN must be between 0 and 1")
	}
	if !strings.HasPrefix(cfg.Endpoint, "ws://") && !strings.HasPrefix(cfg.Endpoint, "wss://") &&
		!strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return Config{}, fmt.Errorf("MAPS_LIVE_ENDPOINT must be a ws(s) or http(s) URL")
	}

	return cfg, nil
}

// RequireAPIKey reports the missing key for commands that talk to the model.
func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY must be set")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
