// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Process wiring for the parley binary.
//
// Builds the full stack from configuration: provider adapters, the
// registry, snapshot store, turn ledger, and the engine, then hands
// control to the REPL.

package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/engine"
	"github.com/jeranaias/parley/internal/ledger"
	"github.com/jeranaias/parley/internal/pricing"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

// Run is the parley entry point. It returns the process exit code.
func Run(args []string) int {
	fs := flag.NewFlagSet("parley", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.toml (default ~/.parley/config.toml)")
	modelFlag := fs.String("model", "", "model to use (overrides config)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Printf("parley %s\n", Version)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}
	if *modelFlag != "" {
		cfg.DefaultModel = *modelFlag
	}

	if !IsTTY() {
		fmt.Fprintln(os.Stderr, "parley: stdin is not a terminal; the REPL needs an interactive session")
		return 1
	}

	repl, cleanup, err := buildREPL(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}
	defer cleanup()

	if err := repl.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// buildREPL wires adapters, storage, ledger, and engine from the
// configuration. The returned cleanup closes everything in reverse
// order.
func buildREPL(cfg *config.Config) (*REPL, func(), error) {
	ollama := provider.NewOllamaAdapter(cfg.Local.OllamaURL)
	anthropic := provider.NewAnthropicAdapter(cfg.Anthropic.BaseURL, cfg.Anthropic.APIKey, cfg.Anthropic.RequestsPerSecond)
	openrouter := provider.NewOpenRouterAdapter(cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey, cfg.OpenRouter.RequestsPerSecond)
	registry := provider.NewRegistry(ollama, anthropic, openrouter)

	store, err := storage.NewSnapshotStoreWithDir(cfg.SnapshotDir())
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot store: %w", err)
	}
	if cfg.Storage.MaxConversations > 0 {
		store.MaxConversations = cfg.Storage.MaxConversations
	}

	led, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, nil, fmt.Errorf("turn ledger: %w", err)
	}

	table := pricing.NewTable()
	table.Merge(cfg.Pricing)

	summaryTimeout := time.Duration(0)
	if cfg.Summary.Enabled {
		summaryTimeout = time.Duration(cfg.Summary.TimeoutSecs) * time.Second
	}

	eng := engine.New(engine.Options{
		Resolver:       registry,
		Store:          store,
		Ledger:         led,
		Pricing:        table,
		ContextWindow:  cfg.ContextWindow,
		CallTimeout:    time.Duration(cfg.CallTimeoutSecs) * time.Second,
		SummaryTimeout: summaryTimeout,
	})

	cleanup := func() {
		eng.Close()
		led.Close()
	}
	return NewREPL(cfg, eng, store, led, ollama), cleanup, nil
}
