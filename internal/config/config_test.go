package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "", cfg.Journal)
	assert.Equal(t, 100, cfg.MaxUndo)
	assert.False(t, cfg.Patterns)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, slog.LevelWarn, cfg.Level())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("EPICFLOW_LOG_LEVEL", "DEBUG")
	t.Setenv("EPICFLOW_JOURNAL", "/tmp/j.db")
	t.Setenv("EPICFLOW_MAX_UNDO", "7")
	t.Setenv("EPICFLOW_PATTERNS", "true")
	t.Setenv("EPICFLOW_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "/tmp/j.db", cfg.Journal)
	assert.Equal(t, 7, cfg.MaxUndo)
	assert.True(t, cfg.Patterns)
	assert.Equal(t, "json", cfg.Format)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"bad int", "EPICFLOW_MAX_UNDO", "lots", "parse env:"},
		{"negative undo", "EPICFLOW_MAX_UNDO", "-1", "must be non-negative"},
		{"bad bool", "EPICFLOW_PATTERNS", "maybe", "parse env:"},
		{"bad format", "EPICFLOW_FORMAT", "xml", "invalid format"},
		{"bad level", "EPICFLOW_LOG_LEVEL", "loud", "unknown level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
