// Package config loads engine configuration from YAML with defaults for
// every field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the engine.
type Config struct {
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Safety     SafetyConfig     `yaml:"safety"`
	Generation GenerationConfig `yaml:"generation"`
	Bus        BusConfig        `yaml:"bus"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// WorkflowConfig tunes plan execution.
type WorkflowConfig struct {
	// Workers bounds concurrent step execution.
	Workers int `yaml:"workers"`
	// MaxRetries bounds retry recovery per step.
	MaxRetries int `yaml:"max_retries"`
	// StepTimeout bounds a single capability call. Zero disables it.
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// SafetyConfig tunes the risk gate.
type SafetyConfig struct {
	// ConfirmTimeout bounds how long a confirmation prompt may stay open
	// before the turn is cancelled.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// GenerationConfig tunes result synthesis.
type GenerationConfig struct {
	Model            string  `yaml:"model"`
	Temperature      float64 `yaml:"temperature"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
}

// BusConfig configures the event transport.
type BusConfig struct {
	// URL is the NATS server address. Empty selects the in-memory bus.
	URL string `yaml:"url"`
	// Name identifies this client to the server.
	Name string `yaml:"name"`
}

// AuditConfig configures the audit sink.
type AuditConfig struct {
	// DSN is the SQLite path. Empty selects the in-memory sink,
	// ":memory:" an ephemeral SQLite database.
	DSN string `yaml:"dsn"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Dir is where session logs are written. Empty disables file logging.
	Dir string `yaml:"dir"`
	// Level is the minimum level: debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Workflow: WorkflowConfig{
			Workers:     2,
			MaxRetries:  2,
			StepTimeout: 30 * time.Second,
		},
		Safety: SafetyConfig{
			ConfirmTimeout: 2 * time.Minute,
		},
		Generation: GenerationConfig{
			Model:            "sidekick-local",
			Temperature:      0.2,
			MaxContextTokens: 4096,
		},
		Bus: BusConfig{
			Name: "sidekick",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Workflow.Workers < 1 {
		return fmt.Errorf("workflow.workers must be at least 1, got %d", c.Workflow.Workers)
	}
	if c.Workflow.MaxRetries < 0 {
		return fmt.Errorf("workflow.max_retries must not be negative, got %d", c.Workflow.MaxRetries)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be in [0, 2], got %v", c.Generation.Temperature)
	}
	if c.Generation.MaxContextTokens < 0 {
		return fmt.Errorf("generation.max_context_tokens must not be negative, got %d", c.Generation.MaxContextTokens)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
