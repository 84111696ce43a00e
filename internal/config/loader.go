package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/reflectlabs/clarify/internal/clarify"
	"github.com/reflectlabs/clarify/internal/consolidate"
	"github.com/reflectlabs/clarify/internal/patterns"
	"github.com/reflectlabs/clarify/internal/retry"
)

const (
	envPrefix         = "CLARIFY_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (CLARIFY_LLM_API_KEY, CLARIFY_STORE_PATH, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// If configPath is empty, ~/.config/clarify/config.yaml is used. A missing
// file is not an error; defaults plus environment apply.
//
// Environment variables map to YAML fields by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	CLARIFY_LLM_API_KEY     -> llm.api_key
//	CLARIFY_RETRY_MAX_DELAY -> retry.max_delay
//	CLARIFY_STORE_PATH      -> store.path
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "clarify", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and read through the descriptor to avoid a TOCTOU race
		// between the size check and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// CLARIFY_LLM_API_KEY -> llm.api_key: first underscore separates
		// the section from the field, remaining underscores stay.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = retry.DefaultMaxRetries
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = retry.DefaultBaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = retry.DefaultMaxDelay
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = retry.DefaultMultiplier
	}
	if cfg.Retry.JitterFactor == 0 {
		cfg.Retry.JitterFactor = retry.DefaultJitterFactor
	}

	if cfg.Consolidation.BatchSize == 0 {
		cfg.Consolidation.BatchSize = consolidate.DefaultBatchSize
	}
	if cfg.Consolidation.MinUserMessages == 0 {
		cfg.Consolidation.MinUserMessages = patterns.DefaultMinUserMessages
	}

	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = clarify.DefaultMaxContextTokens
	}
	if cfg.Context.MaxGoals == 0 {
		cfg.Context.MaxGoals = clarify.DefaultMaxGoals
	}
	if cfg.Context.MaxPatterns == 0 {
		cfg.Context.MaxPatterns = clarify.DefaultMaxPatterns
	}
	if cfg.Context.MinPatternStrength == 0 {
		cfg.Context.MinPatternStrength = clarify.DefaultMinPatternStrength
	}
	if cfg.Context.MaxSessions == 0 {
		cfg.Context.MaxSessions = clarify.DefaultMaxSessions
	}
	if cfg.Context.MaxEntries == 0 {
		cfg.Context.MaxEntries = clarify.DefaultMaxEntries
	}

	if cfg.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Path = filepath.Join(home, ".local", "share", "clarify", "clarify.db")
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
