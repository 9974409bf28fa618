package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config holds all environment backed configuration for chat-core.
type Config struct {
	// Local store
	DBPath string `env:"CHAT_DB_PATH" envDefault:"chat.db"`

	// Completion endpoint (OpenAI-compatible)
	CompletionBaseURL string `env:"COMPLETION_BASE_URL" envDefault:"http://localhost:1135/v1"`
	CompletionAPIKey  string `env:"COMPLETION_API_KEY"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
