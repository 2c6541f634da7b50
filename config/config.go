package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gateflow/gateflow/store"
	"github.com/gateflow/gateflow/workflow"
)

// Config is the full gateflow configuration.
type Config struct {
	// Engine tunes the execution engine.
	Engine workflow.EngineConfig `yaml:"engine"`

	// Retry is the default retry policy applied to workflows that set none.
	Retry workflow.RetryPolicy `yaml:"retry"`

	// Gate configures the gate subsystem.
	Gate GateConfig `yaml:"gate"`

	// Events configures the lifecycle event emitter.
	Events EventsConfig `yaml:"events"`

	// Database configures the SQLite catalog store.
	Database DatabaseConfig `yaml:"database"`

	// Redis configures the execution-history archive.
	Redis RedisConfig `yaml:"redis"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// GateConfig configures the gate subsystem.
type GateConfig struct {
	// MinClassifierConfidence is the minimum confidence a classifier
	// suggestion needs before its suggested gates are merged.
	MinClassifierConfidence float64 `yaml:"min_classifier_confidence"`
}

// EventsConfig configures the lifecycle event emitter.
type EventsConfig struct {
	// BufferSize is the channel emitter's buffer.
	BufferSize int `yaml:"buffer_size"`
}

// DatabaseConfig configures catalog persistence.
type DatabaseConfig struct {
	// Enabled turns on SQLite persistence of registered definitions.
	Enabled bool `yaml:"enabled"`
	// Path is the SQLite database file. ":memory:" keeps it in-process.
	Path string `yaml:"path"`
}

// RedisConfig configures the execution-history archive.
type RedisConfig struct {
	// Enabled turns on archiving of terminal executions.
	Enabled bool                     `yaml:"enabled"`
	History store.RedisHistoryConfig `yaml:",inline"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches zap to its development output.
	Development bool `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: workflow.DefaultEngineConfig(),
		Retry:  workflow.DefaultRetryPolicy(),
		Gate: GateConfig{
			MinClassifierConfidence: 0.6,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Database: DatabaseConfig{
			Enabled: false,
			Path:    "gateflow.db",
		},
		Redis: RedisConfig{
			Enabled: false,
			History: store.DefaultRedisHistoryConfig(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Engine.MaxParallelism < 0 {
		return fmt.Errorf("engine.max_parallelism must not be negative")
	}
	if c.Engine.HistoryCapacity < 0 {
		return fmt.Errorf("engine.history_capacity must not be negative")
	}
	if c.Engine.GlobalStepTimeout < 0 || c.Engine.DefaultStepTimeout < 0 {
		return fmt.Errorf("engine timeouts must not be negative")
	}
	if c.Gate.MinClassifierConfidence < 0 || c.Gate.MinClassifierConfidence > 1 {
		return fmt.Errorf("gate.min_classifier_confidence must be in [0,1]")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	switch c.Retry.Backoff {
	case "", workflow.BackoffFixed, workflow.BackoffLinear, workflow.BackoffExponential:
	default:
		return fmt.Errorf("retry.backoff must be fixed, linear or exponential")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	return nil
}
