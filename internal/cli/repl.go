// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Interactive REPL loop for parley.
//
// USABILITY: Line editing and persistent history via liner
//
// Interactive commands:
//   /help, /h           Show available commands
//   /models             List available models
//   /model [name]       Show or switch the current model
//   /compare m1,m2 ...  Send one prompt to several models
//   /file PATH          Attach a file to the conversation context
//   /clear              Clear conversation context
//   /status             Show conversation status
//   /list               List saved conversations
//   /restore ID         Restore a saved conversation
//   /export [format]    Export the conversation (markdown, json, html)
//   /end                End the conversation and start a new one
//   /quit, /q           Exit
//   Ctrl+C              Cancel the in-flight call
//   Ctrl+D              Exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/engine"
	"github.com/jeranaias/parley/internal/ledger"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/storage"
)

// =============================================================================
// REPL STATE
// =============================================================================

// REPL is one interactive parley session. It owns a single live
// conversation at a time; /restore and /end switch it.
type REPL struct {
	cfg    *config.Config
	eng    *engine.Engine
	store  *storage.SnapshotStore
	led    *ledger.Ledger
	ollama *provider.OllamaAdapter

	anthropicReady  bool
	openRouterReady bool

	line        *liner.State
	historyFile string

	convID string
	model  string
	start  time.Time

	// cancelMu guards cancel, written by the REPL loop and read by the
	// signal handler.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewREPL assembles a REPL over an already-wired engine.
func NewREPL(cfg *config.Config, eng *engine.Engine, store *storage.SnapshotStore, led *ledger.Ledger, ollama *provider.OllamaAdapter) *REPL {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &REPL{
		cfg:             cfg,
		eng:             eng,
		store:           store,
		led:             led,
		ollama:          ollama,
		anthropicReady:  cfg.Anthropic.APIKey != "",
		openRouterReady: cfg.OpenRouter.APIKey != "",
		line:            line,
		historyFile:     cfg.HistoryPath(),
		model:           cfg.DefaultModel,
		start:           time.Now(),
	}
	r.loadHistory()
	return r
}

func (r *REPL) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

// saveHistory persists input history with owner-only permissions;
// prompts can contain sensitive material.
func (r *REPL) saveHistory() {
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

// =============================================================================
// MAIN LOOP
// =============================================================================

// Run is the REPL main loop. It returns when the user exits.
func (r *REPL) Run() error {
	conv := r.eng.NewConversation()
	r.convID = conv.ID()

	r.printWelcome()

	defer func() {
		r.saveHistory()
		r.line.Close()
		r.eng.End(r.convID)
	}()

	// First Ctrl+C cancels the in-flight call rather than killing the
	// process.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			r.cancelMu.Lock()
			if r.cancel != nil {
				r.cancel()
				r.cancel = nil
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
			}
			r.cancelMu.Unlock()
		}
	}()

	for {
		input, err := r.line.Prompt(promptStyle.Render("parley> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF: exit gracefully.
			fmt.Println()
			r.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			keepGoing, err := r.runCommand(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				r.printExitSummary()
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			r.printExitSummary()
			return nil
		}

		if err := r.sendPrompt(input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// =============================================================================
// SENDING
// =============================================================================

// sendPrompt runs one prompt against the current model.
func (r *REPL) sendPrompt(prompt string) error {
	ctx, cancel := context.WithCancel(context.Background())
	r.setCancel(cancel)
	defer func() {
		r.setCancel(nil)
		cancel()
	}()

	// Stream raw deltas when markdown rendering is off; with markdown
	// the full response is rendered once at the end.
	useMarkdown := IsStdoutTTY()
	onChunk := func(modelID, delta string) {
		if !useMarkdown {
			fmt.Print(delta)
		}
	}

	fmt.Println()
	started := time.Now()
	batch, err := r.eng.Send(ctx, r.convID, []string{r.model}, prompt, onChunk)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	rec := batch.Records[0]
	if rec.Failed() {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n",
			errorStyle.Render("["+rec.FailureKind.String()+"]"),
			rec.ModelID, rec.FailureMessage)
		return nil
	}

	if useMarkdown {
		renderResponse(rec.Response)
	} else {
		fmt.Println()
	}
	fmt.Println()
	r.printTurnStats(rec, time.Since(started))
	return nil
}

func (r *REPL) setCancel(cancel context.CancelFunc) {
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *REPL) printWelcome() {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("parley"))
	fmt.Println(separator())
	fmt.Printf("%s %s\n", infoStyle.Render("Conversation:"), valueStyle.Render(r.convID))
	fmt.Printf("%s %s\n", infoStyle.Render("Model:"), valueStyle.Render(r.model))

	var backends []string
	backends = append(backends, "ollama")
	if r.anthropicReady {
		backends = append(backends, "anthropic")
	}
	if r.openRouterReady {
		backends = append(backends, "openrouter")
	}
	fmt.Printf("%s %s\n", infoStyle.Render("Backends:"), strings.Join(backends, ", "))

	fmt.Println()
	fmt.Println(dimStyle.Render("Type a message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

func (r *REPL) printExitSummary() {
	snap, err := r.eng.Snapshot(r.convID)
	if err != nil {
		return
	}
	elapsed := time.Since(r.start).Round(time.Second)

	fmt.Println()
	fmt.Println(headerStyle.Render("Session Summary"))
	fmt.Println(separator())
	fmt.Printf("  %s %d\n", infoStyle.Render("Turns:"), len(snap.Turns))
	fmt.Printf("  %s %d in / %d out\n", infoStyle.Render("Tokens:"),
		snap.TotalInputTokens, snap.TotalOutputTokens)
	if snap.TotalCostCents > 0 {
		fmt.Printf("  %s %.4f cents\n", infoStyle.Render("Cost:"), snap.TotalCostCents)
	}
	fmt.Printf("  %s %s\n", infoStyle.Render("Duration:"), elapsed)
	fmt.Println()
}
