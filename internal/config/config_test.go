package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 0.90, cfg.PatternStore.HighConfidence)
	assert.Equal(t, 5, cfg.PatternStore.CandidateK)
	assert.Equal(t, 0.40, cfg.PatternStore.LowPerformerFloor)
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Equal(t, 5*time.Second, cfg.Embeddings.Timeout)
	assert.Equal(t, 0.75, cfg.Router.SpecializedFloor)
	assert.Equal(t, 0.5, cfg.Router.GeneralBaseline)
	assert.Equal(t, 50, cfg.Feedback.RetrainThreshold)
	assert.Equal(t, 1000, cfg.Perf.WindowSize)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
patternstore:
  high_confidence: 0.85
  path: /var/lib/ffagent/patterns
vanna:
  base_url: http://vanna.internal:8084
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0.85, cfg.PatternStore.HighConfidence)
	assert.Equal(t, "/var/lib/ffagent/patterns", cfg.PatternStore.Path)
	assert.Equal(t, "http://vanna.internal:8084", cfg.Vanna.BaseURL)
	// Untouched sections keep defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600))

	t.Setenv("FFAGENT_SERVER_PORT", "7070")
	t.Setenv("FFAGENT_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"confidence out of range", func(c *Config) { c.PatternStore.HighConfidence = 1.5 }},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
