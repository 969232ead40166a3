package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`

	// Storage
	DBPath string `envconfig:"DB_PATH" default:"automation.db"`

	// Seed files (optional)
	RulesFile string `envconfig:"RULES_FILE"` // YAML rule seed, loaded when the store is empty
	BoardFile string `envconfig:"BOARD_FILE"` // YAML board fixture for the in-memory board

	// Scheduler
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"30s"`

	// Execution history
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"20"`

	// Undo
	UndoTTL time.Duration `envconfig:"UNDO_TTL" default:"10s"`

	// API
	AuthMode       string `envconfig:"AUTH_MODE" default:"api-key"` // "api-key" or "none"
	APIKey         string `envconfig:"API_KEY"`
	ReadOnlyAPIKey string `envconfig:"READONLY_API_KEY"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"200"`
}

// Validate catches configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.TickInterval < time.Second {
		return fmt.Errorf("TICK_INTERVAL must be at least 1s, got %s", c.TickInterval)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.AuthMode != "api-key" && c.AuthMode != "none" {
		return fmt.Errorf("AUTH_MODE must be api-key or none, got %q", c.AuthMode)
	}
	if c.AuthMode == "api-key" && c.APIKey == "" {
		return fmt.Errorf("API_KEY is required when AUTH_MODE=api-key")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
