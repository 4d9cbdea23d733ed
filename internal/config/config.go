// Package config provides configuration loading for ffagent.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps all validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full daemon configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Classifier   ClassifierConfig   `koanf:"classifier"`
	PatternStore PatternStoreConfig `koanf:"patternstore"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	Vanna        VannaConfig        `koanf:"vanna"`
	Gemini       GeminiConfig       `koanf:"gemini"`
	Router       RouterConfig       `koanf:"router"`
	Feedback     FeedbackConfig     `koanf:"feedback"`
	Perf         PerfConfig         `koanf:"perf"`
	NATS         NATSConfig         `koanf:"nats"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// ClassifierConfig configures the rule-based classifier.
type ClassifierConfig struct {
	// RulesPath points at a YAML rule table. Empty uses built-in rules.
	RulesPath string `koanf:"rules_path"`

	// Watch reloads the rule table when the file changes.
	Watch bool `koanf:"watch"`
}

// PatternStoreConfig configures the semantic cache.
type PatternStoreConfig struct {
	Path                string  `koanf:"path"`
	Compress            bool    `koanf:"compress"`
	Collection          string  `koanf:"collection"`
	HighConfidence      float64 `koanf:"high_confidence"`
	CandidateK          int     `koanf:"candidate_k"`
	LowPerformerFloor   float64 `koanf:"low_performer_floor"`
	LowPerformerMinUses int     `koanf:"low_performer_min_uses"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	Dimension int           `koanf:"dimension"`
	Timeout   time.Duration `koanf:"timeout"`
}

// VannaConfig configures the specialized text-to-SQL tier.
type VannaConfig struct {
	BaseURL    string        `koanf:"base_url"`
	APIKey     string        `koanf:"api_key"`
	Timeout    time.Duration `koanf:"timeout"`
	RateLimit  float64       `koanf:"rate_limit"`
	MaxRetries int           `koanf:"max_retries"`
}

// GeminiConfig configures the general fallback tier.
type GeminiConfig struct {
	APIKey      string  `koanf:"api_key"`
	Model       string  `koanf:"model"`
	Temperature float32 `koanf:"temperature"`
}

// RouterConfig configures tier routing.
type RouterConfig struct {
	SpecializedFloor float64 `koanf:"specialized_floor"`
	GeneralBaseline  float64 `koanf:"general_baseline"`
	AvoidK           int     `koanf:"avoid_k"`
	RecordCapacity   int     `koanf:"record_capacity"`
}

// FeedbackConfig configures the feedback learner.
type FeedbackConfig struct {
	RetrainThreshold int `koanf:"retrain_threshold"`
}

// PerfConfig configures the performance monitor.
type PerfConfig struct {
	WindowSize   int           `koanf:"window_size"`
	MaxErrorRate float64       `koanf:"max_error_rate"`
	MaxP95       time.Duration `koanf:"max_p95"`
}

// NATSConfig configures the optional event broker.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Enabled bool   `koanf:"enabled"`
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.PatternStore.Collection == "" {
		c.PatternStore.Collection = "ffagent_patterns"
	}
	if c.PatternStore.HighConfidence == 0 {
		c.PatternStore.HighConfidence = 0.90
	}
	if c.PatternStore.CandidateK == 0 {
		c.PatternStore.CandidateK = 5
	}
	if c.PatternStore.LowPerformerFloor == 0 {
		c.PatternStore.LowPerformerFloor = 0.40
	}
	if c.PatternStore.LowPerformerMinUses == 0 {
		c.PatternStore.LowPerformerMinUses = 5
	}

	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "gemini-embedding-001"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 768
	}
	if c.Embeddings.Timeout == 0 {
		c.Embeddings.Timeout = 5 * time.Second
	}

	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash"
	}

	if c.Router.SpecializedFloor == 0 {
		c.Router.SpecializedFloor = 0.75
	}
	if c.Router.GeneralBaseline == 0 {
		c.Router.GeneralBaseline = 0.5
	}
	if c.Router.AvoidK == 0 {
		c.Router.AvoidK = 3
	}
	if c.Router.RecordCapacity == 0 {
		c.Router.RecordCapacity = 10000
	}

	if c.Feedback.RetrainThreshold == 0 {
		c.Feedback.RetrainThreshold = 50
	}

	if c.Perf.WindowSize == 0 {
		c.Perf.WindowSize = 1000
	}
	if c.Perf.MaxErrorRate == 0 {
		c.Perf.MaxErrorRate = 0.2
	}
	if c.Perf.MaxP95 == 0 {
		c.Perf.MaxP95 = 5 * time.Second
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	if c.PatternStore.HighConfidence < 0 || c.PatternStore.HighConfidence > 1 {
		return fmt.Errorf("%w: high_confidence must be in [0,1]", ErrInvalidConfig)
	}
	if c.Router.SpecializedFloor < 0 || c.Router.SpecializedFloor > 1 {
		return fmt.Errorf("%w: specialized_floor must be in [0,1]", ErrInvalidConfig)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidConfig)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("%w: nats enabled without a URL", ErrInvalidConfig)
	}
	return nil
}
