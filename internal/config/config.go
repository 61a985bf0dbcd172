package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice session service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Live conversational API configuration
	LiveAPIKey string `envconfig:"LIVE_API_KEY" required:"true"`
	LiveWSURL  string `envconfig:"LIVE_WS_URL" default:"wss://api.parley.ai/v1/live"`
	LiveModel  string `envconfig:"LIVE_MODEL" default:"parley-live-1"`

	// Session settings, forwarded opaquely at connection-open time
	VoiceName    string `envconfig:"VOICE_NAME" default:"aoede"`
	SystemPrompt string `envconfig:"SYSTEM_PROMPT" default:""`
	EnabledTools string `envconfig:"ENABLED_TOOLS" default:""` // comma-separated remote tool names

	// Audio configuration
	InputSampleRate  int `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`  // microphone capture rate in Hz
	OutputSampleRate int `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"` // playback rate in Hz
	FrameSamples     int `envconfig:"FRAME_SAMPLES" default:"1024"`       // samples per captured microphone frame
	AudioRingSamples int `envconfig:"AUDIO_RING_SAMPLES" default:"16384"` // capture ring buffer size in samples

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.LiveAPIKey == "" {
		return nil, fmt.Errorf("LIVE_API_KEY is required")
	}
	if cfg.InputSampleRate <= 0 || cfg.OutputSampleRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive (got in=%d out=%d)", cfg.InputSampleRate, cfg.OutputSampleRate)
	}
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("FRAME_SAMPLES must be positive (got %d)", cfg.FrameSamples)
	}
	if cfg.AudioRingSamples < cfg.FrameSamples {
		return nil, fmt.Errorf("AUDIO_RING_SAMPLES (%d) must be at least FRAME_SAMPLES (%d)", cfg.AudioRingSamples, cfg.FrameSamples)
	}

	return &cfg, nil
}

// Tools returns the enabled remote tool names as a slice
func (c *Config) Tools() []string {
	if strings.TrimSpace(c.EnabledTools) == "" {
		return nil
	}
	parts := strings.Split(c.EnabledTools, ",")
	tools := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tools = append(tools, p)
		}
	}
	return tools
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
