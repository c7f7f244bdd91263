// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.ContextWindow != 10 {
		t.Errorf("default context window = %d, want 10", cfg.ContextWindow)
	}
	if cfg.Local.OllamaURL != "http://127.0.0.1:11434" {
		t.Errorf("default ollama url = %q", cfg.Local.OllamaURL)
	}
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.DefaultModel != Default().DefaultModel {
		t.Errorf("model = %q, want default", cfg.DefaultModel)
	}
}

func TestLoadFromPathParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_model = "mistral"
context_window = 4

[local]
ollama_url = "http://10.0.0.5:11434"

[openrouter]
requests_per_second = 2.5

[summary]
enabled = false

[pricing."custom/model"]
input = 0.1
output = 0.2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.DefaultModel != "mistral" {
		t.Errorf("model = %q, want mistral", cfg.DefaultModel)
	}
	if cfg.ContextWindow != 4 {
		t.Errorf("window = %d, want 4", cfg.ContextWindow)
	}
	if cfg.Local.OllamaURL != "http://10.0.0.5:11434" {
		t.Errorf("ollama url = %q", cfg.Local.OllamaURL)
	}
	if cfg.OpenRouter.RequestsPerSecond != 2.5 {
		t.Errorf("openrouter rps = %v, want 2.5", cfg.OpenRouter.RequestsPerSecond)
	}
	if cfg.Summary.Enabled {
		t.Error("summary not disabled")
	}
	// Partial file still backfills defaults.
	if cfg.CallTimeoutSecs != 120 {
		t.Errorf("call timeout = %d, want backfilled 120", cfg.CallTimeoutSecs)
	}
	rate, ok := cfg.Pricing["custom/model"]
	if !ok || rate.Input != 0.1 || rate.Output != 0.2 {
		t.Errorf("pricing override = %+v ok=%v", rate, ok)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`default_model = "from-file"`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("PARLEY_MODEL", "from-env")
	t.Setenv("PARLEY_OLLAMA_HOST", "http://env-host:11434")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("PARLEY_CONTEXT_WINDOW", "3")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.DefaultModel != "from-env" {
		t.Errorf("model = %q, want from-env", cfg.DefaultModel)
	}
	if cfg.Local.OllamaURL != "http://env-host:11434" {
		t.Errorf("ollama url = %q", cfg.Local.OllamaURL)
	}
	if cfg.Anthropic.APIKey != "sk-ant-test" || cfg.OpenRouter.APIKey != "sk-or-test" {
		t.Error("API keys not taken from environment")
	}
	if cfg.ContextWindow != 3 {
		t.Errorf("window = %d, want 3", cfg.ContextWindow)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.ContextWindow = -1
	cfg.Local.OllamaURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted bad config")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/data/parley"
	if got := cfg.SnapshotDir(); got != filepath.Join("/data/parley", "conversations") {
		t.Errorf("SnapshotDir = %q", got)
	}
	if got := cfg.LedgerPath(); got != filepath.Join("/data/parley", "ledger.db") {
		t.Errorf("LedgerPath = %q", got)
	}
}
