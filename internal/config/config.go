// Package config loads CLI defaults from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds environment-driven defaults. Command-line flags override
// them.
type Config struct {
	LogLevel string `env:"EPICFLOW_LOG_LEVEL" envDefault:"warn"`

	// Journal is the SQLite journal path used by the test command.
	Journal string `env:"EPICFLOW_JOURNAL"`

	// MaxUndo is the undo depth for scenarios that enable undo without
	// setting max_stack.
	MaxUndo int `env:"EPICFLOW_MAX_UNDO" envDefault:"100"`

	// Patterns enables wildcard conditions for every store the CLI builds.
	Patterns bool `env:"EPICFLOW_PATTERNS" envDefault:"false"`

	Format string `env:"EPICFLOW_FORMAT" envDefault:"text"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated and numeric fields.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Format != "text" && c.Format != "json" {
		return fmt.Errorf("EPICFLOW_FORMAT: invalid format %q (must be 'json' or 'text')", c.Format)
	}
	if c.MaxUndo < 0 {
		return fmt.Errorf("EPICFLOW_MAX_UNDO: must be non-negative, got %d", c.MaxUndo)
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() slog.Level {
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return lvl
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("EPICFLOW_LOG_LEVEL: unknown level %q", s)
	}
}
