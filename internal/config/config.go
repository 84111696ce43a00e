// Package config provides configuration loading for clarify.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	LLM           LLMConfig           `koanf:"llm"`
	Retry         RetryConfig         `koanf:"retry"`
	Consolidation ConsolidationConfig `koanf:"consolidation"`
	Context       ContextConfig       `koanf:"context"`
	Store         StoreConfig         `koanf:"store"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// LLMConfig configures the model provider client.
type LLMConfig struct {
	APIKey     string        `koanf:"api_key"`
	Model      string        `koanf:"model"`
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	RatePerMin float64       `koanf:"rate_per_min"`
	RateBurst  int           `koanf:"rate_burst"`
}

// RetryConfig configures backoff for model calls.
type RetryConfig struct {
	MaxRetries   int           `koanf:"max_retries"`
	BaseDelay    time.Duration `koanf:"base_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	Multiplier   float64       `koanf:"multiplier"`
	JitterFactor float64       `koanf:"jitter_factor"`
}

// ConsolidationConfig configures the pattern consolidation pass.
type ConsolidationConfig struct {
	BatchSize       int `koanf:"batch_size"`
	MinUserMessages int `koanf:"min_user_messages"`
}

// ContextConfig configures the context builder.
type ContextConfig struct {
	MaxTokens          int `koanf:"max_tokens"`
	MaxGoals           int `koanf:"max_goals"`
	MaxPatterns        int `koanf:"max_patterns"`
	MinPatternStrength int `koanf:"min_pattern_strength"`
	MaxSessions        int `koanf:"max_sessions"`
	MaxEntries         int `koanf:"max_entries"`
}

// StoreConfig configures the data store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must be >= 0, got %v", c.LLM.Timeout)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry.jitter_factor must be in [0, 1], got %v", c.Retry.JitterFactor)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be > 0, got %v", c.Retry.BaseDelay)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay")
	}
	if c.Consolidation.BatchSize <= 0 {
		return fmt.Errorf("consolidation.batch_size must be > 0, got %d", c.Consolidation.BatchSize)
	}
	if c.Consolidation.MinUserMessages <= 0 {
		return fmt.Errorf("consolidation.min_user_messages must be > 0, got %d", c.Consolidation.MinUserMessages)
	}
	if c.Context.MaxTokens < 0 {
		return fmt.Errorf("context.max_tokens must be >= 0, got %d", c.Context.MaxTokens)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}
