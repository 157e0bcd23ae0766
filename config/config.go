// Package config loads bookchain settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config holds settings shared by every bookchain command. Command-line flags
// override the environment.
type Config struct {
	DBPath          string        `env:"BOOKCHAIN_DB_PATH"          envDefault:"bookchain.db"`
	LogLevel        string        `env:"BOOKCHAIN_LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"BOOKCHAIN_LOG_FORMAT"       envDefault:"console"`
	HTTPAddr        string        `env:"BOOKCHAIN_HTTP_ADDR"        envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"BOOKCHAIN_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// Actor is the account used by CLI commands when --actor is not given.
	Actor string `env:"BOOKCHAIN_ACTOR"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no command can work with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("database path is empty")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}
