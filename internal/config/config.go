// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for parley.
//
// Configuration comes from ~/.parley/config.toml with built-in defaults
// and environment variable overrides, in that order of precedence:
// environment beats file beats defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/parley/internal/pricing"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete parley configuration.
type Config struct {
	// DefaultModel is used when a send names no model.
	DefaultModel string `toml:"default_model"`

	// ContextWindow is the number of recent turns included with each
	// prompt. 0 sends the full history.
	ContextWindow int `toml:"context_window"`

	// CallTimeoutSecs bounds a single provider call.
	CallTimeoutSecs int `toml:"call_timeout_secs"`

	// Local (Ollama) configuration.
	Local LocalConfig `toml:"local"`

	// Anthropic configuration.
	Anthropic MeteredConfig `toml:"anthropic"`

	// OpenRouter configuration.
	OpenRouter MeteredConfig `toml:"openrouter"`

	// Storage configuration.
	Storage StorageConfig `toml:"storage"`

	// Summary configuration.
	Summary SummaryConfig `toml:"summary"`

	// Pricing overrides, model id -> rate per 1K tokens in cents.
	Pricing map[string]pricing.Rate `toml:"pricing"`
}

// LocalConfig holds the local inference runtime settings.
type LocalConfig struct {
	// OllamaURL is the Ollama server URL.
	OllamaURL string `toml:"ollama_url"`
}

// MeteredConfig holds the settings for one metered API backend.
type MeteredConfig struct {
	// APIKey authenticates requests; empty disables the backend.
	APIKey string `toml:"api_key"`
	// BaseURL overrides the production endpoint, for testing.
	BaseURL string `toml:"base_url"`
	// RequestsPerSecond throttles outbound calls. 0 = default (5).
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DataDir is the root data directory (default ~/.parley).
	DataDir string `toml:"data_dir"`
	// MaxConversations limits stored snapshots; oldest ended are
	// evicted first. 0 = unlimited.
	MaxConversations int `toml:"max_conversations"`
}

// SummaryConfig controls the per-turn summarization sub-call.
type SummaryConfig struct {
	// Enabled turns summaries on. A failed or slow summary never fails
	// the turn; the record just carries an empty summary.
	Enabled bool `toml:"enabled"`
	// TimeoutSecs bounds the summary sub-call.
	TimeoutSecs int `toml:"timeout_secs"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultModel:    "llama3.1:8b",
		ContextWindow:   10,
		CallTimeoutSecs: 120,
		Local: LocalConfig{
			OllamaURL: "http://127.0.0.1:11434",
		},
		Anthropic: MeteredConfig{
			RequestsPerSecond: 5,
		},
		OpenRouter: MeteredConfig{
			RequestsPerSecond: 5,
		},
		Storage: StorageConfig{
			MaxConversations: 200,
		},
		Summary: SummaryConfig{
			Enabled:     true,
			TimeoutSecs: 20,
		},
	}
}

// ConfigDir returns the parley configuration directory path.
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".parley"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads ~/.parley/config.toml if present, applies environment
// overrides, validates, and returns the effective configuration. A
// missing file is not an error.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(filepath.Join(dir, "config.toml"))
}

// LoadFromPath loads configuration from an explicit TOML path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variables on top of the loaded
// configuration. API keys are taken from the environment so they never
// have to live in a file.
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("PARLEY_OLLAMA_HOST"); host != "" {
		c.Local.OllamaURL = host
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.OpenRouter.APIKey = key
	}
	if model := os.Getenv("PARLEY_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if w := os.Getenv("PARLEY_CONTEXT_WINDOW"); w != "" {
		if n, err := strconv.Atoi(w); err == nil && n >= 0 {
			c.ContextWindow = n
		}
	}
	if dir := os.Getenv("PARLEY_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
}

// fillDefaults backfills zero values left by a partial config file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.DefaultModel == "" {
		c.DefaultModel = def.DefaultModel
	}
	if c.CallTimeoutSecs == 0 {
		c.CallTimeoutSecs = def.CallTimeoutSecs
	}
	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = def.Local.OllamaURL
	}
	if c.Anthropic.RequestsPerSecond == 0 {
		c.Anthropic.RequestsPerSecond = def.Anthropic.RequestsPerSecond
	}
	if c.OpenRouter.RequestsPerSecond == 0 {
		c.OpenRouter.RequestsPerSecond = def.OpenRouter.RequestsPerSecond
	}
	if c.Summary.TimeoutSecs == 0 {
		c.Summary.TimeoutSecs = def.Summary.TimeoutSecs
	}
	if c.Storage.DataDir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.DataDir = dir
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

// Validate checks the configuration for nonsense values.
func (c *Config) Validate() error {
	var errs []error

	if c.ContextWindow < 0 {
		errs = append(errs, ValidationError{"context_window", "must be >= 0"})
	}
	if c.CallTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{"call_timeout_secs", "must be > 0"})
	}
	if u, err := url.Parse(c.Local.OllamaURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{"local.ollama_url", "must be a valid URL"})
	}
	if c.Anthropic.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{"anthropic.requests_per_second", "must be >= 0"})
	}
	if c.OpenRouter.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{"openrouter.requests_per_second", "must be >= 0"})
	}
	for id, rate := range c.Pricing {
		if rate.Input < 0 || rate.Output < 0 {
			errs = append(errs, ValidationError{"pricing." + id, "rates must be >= 0"})
		}
	}

	return errors.Join(errs...)
}

// =============================================================================
// DERIVED PATHS
// =============================================================================

// SnapshotDir returns the conversation snapshot directory.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.Storage.DataDir, "conversations")
}

// LedgerPath returns the SQLite turn ledger path.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Storage.DataDir, "ledger.db")
}

// HistoryPath returns the REPL history file path.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Storage.DataDir, "history")
}

// ExportDir returns the default export directory.
func (c *Config) ExportDir() string {
	return filepath.Join(c.Storage.DataDir, "exports")
}
