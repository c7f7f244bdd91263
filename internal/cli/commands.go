// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Slash command handlers for the parley REPL.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/export"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/naming"
	"github.com/jeranaias/parley/internal/util"
)

// maxAttachedFileSize bounds what /file will read into context.
const maxAttachedFileSize = 1 << 20 // 1 MiB

// =============================================================================
// COMMAND DISPATCH
// =============================================================================

// runCommand processes one slash command. The bool result is false when
// the REPL should exit.
func (r *REPL) runCommand(input string) (bool, error) {
	command, rest := splitCommand(input)

	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()
		return true, nil

	case "/models":
		return true, r.cmdModels()

	case "/model", "/m":
		return true, r.cmdModel(rest)

	case "/compare":
		return true, r.cmdCompare(rest)

	case "/file", "/f":
		return true, r.cmdFile(rest)

	case "/clear", "/c":
		if err := r.eng.ClearContext(r.convID); err != nil {
			return true, err
		}
		fmt.Println(successStyle.Render("[Context cleared]"))
		return true, nil

	case "/status", "/s":
		return true, r.cmdStatus()

	case "/list", "/l":
		return true, r.cmdList()

	case "/restore":
		return true, r.cmdRestore(rest)

	case "/export", "/e":
		return true, r.cmdExport(rest)

	case "/end":
		return true, r.cmdEnd()

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// splitCommand separates the command word from its argument text.
func splitCommand(input string) (command, rest string) {
	command, rest, _ = strings.Cut(input, " ")
	return strings.ToLower(command), strings.TrimSpace(rest)
}

// =============================================================================
// MODEL COMMANDS
// =============================================================================

// cmdModels lists locally installed models and the configured metered
// backends.
func (r *REPL) cmdModels() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println(headerStyle.Render("Local models (ollama)"))
	names, err := r.ollama.ListModels(ctx)
	switch {
	case err != nil:
		fmt.Printf("  %s %v\n", warningStyle.Render("[unavailable]"), err)
	case len(names) == 0:
		fmt.Println(dimStyle.Render("  none installed"))
	default:
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s\n", valueStyle.Render(name))
		}
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Metered backends"))
	printBackendStatus("anthropic (claude-*)", r.anthropicReady)
	printBackendStatus("openrouter (vendor/model)", r.openRouterReady)
	fmt.Println()
	return nil
}

func printBackendStatus(label string, ready bool) {
	if ready {
		fmt.Printf("  %s %s\n", successStyle.Render("[configured]"), label)
	} else {
		fmt.Printf("  %s %s\n", dimStyle.Render("[no API key]"), label)
	}
}

// cmdModel shows or switches the current model.
func (r *REPL) cmdModel(name string) error {
	if name == "" {
		fmt.Printf("%s %s\n", infoStyle.Render("[Model]"), valueStyle.Render(r.model))
		return nil
	}
	r.model = name
	fmt.Printf("%s switched to %s\n", successStyle.Render("[OK]"), valueStyle.Render(name))
	return nil
}

// =============================================================================
// COMPARE
// =============================================================================

// cmdCompare sends one prompt to a comma-separated model list:
//
//	/compare llama3.1:8b,claude-sonnet-4 which is faster?
//
// Per-model results print as they complete; the final table is in
// requested order.
func (r *REPL) cmdCompare(rest string) error {
	modelIDs, prompt, err := parseCompareArgs(rest)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.setCancel(cancel)
	defer func() {
		r.setCancel(nil)
		cancel()
	}()

	fmt.Println()
	fmt.Printf("%s %s\n", infoStyle.Render("[Compare]"), strings.Join(modelIDs, " vs "))

	onProgress := func(rec model.TurnRecord) {
		label := outcomeStyle(rec.Outcome()).Render("[" + rec.Outcome() + "]")
		fmt.Printf("  %s %s (%s)\n", label, rec.ModelID, rec.Elapsed.Round(time.Millisecond))
	}

	batch, err := r.eng.SendWithProgress(ctx, r.convID, modelIDs, prompt, nil, onProgress)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	for _, rec := range batch.Records {
		if rec.Failed() {
			continue
		}
		fmt.Println()
		fmt.Println(headerStyle.Render("── " + rec.ModelID + " ──"))
		renderResponse(rec.Response)
	}

	fmt.Println()
	r.printCompareTable(batch)
	return nil
}

// parseCompareArgs splits "/compare" argument text into model ids and
// the prompt.
func parseCompareArgs(rest string) (modelIDs []string, prompt string, err error) {
	spec, prompt, _ := strings.Cut(rest, " ")
	prompt = strings.TrimSpace(prompt)
	if spec == "" || prompt == "" {
		return nil, "", fmt.Errorf("usage: /compare model1,model2 PROMPT")
	}
	for _, id := range strings.Split(spec, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			modelIDs = append(modelIDs, id)
		}
	}
	if len(modelIDs) == 0 {
		return nil, "", fmt.Errorf("usage: /compare model1,model2 PROMPT")
	}
	return modelIDs, prompt, nil
}

// printCompareTable prints the final per-model table in requested order.
func (r *REPL) printCompareTable(batch *model.ComparisonBatch) {
	fmt.Println(headerStyle.Render("Results"))
	fmt.Println(separator())
	fmt.Printf("  %-24s %-14s %10s %10s %12s\n",
		"MODEL", "OUTCOME", "TOKENS", "ELAPSED", "COST")
	for _, rec := range batch.Records {
		outcome := outcomeStyle(rec.Outcome()).Render(fmt.Sprintf("%-14s", rec.Outcome()))
		cost := "free"
		if rec.CostCents > 0 {
			cost = fmt.Sprintf("%.4f¢", rec.CostCents)
		} else if rec.Failed() {
			cost = "-"
		}
		tokens := "-"
		if !rec.Failed() {
			tokens = fmt.Sprintf("%d", rec.TotalTokens())
		}
		fmt.Printf("  %-24s %s %10s %10s %12s\n",
			naming.ModelLabel(rec.ModelID), outcome, tokens,
			rec.Elapsed.Round(time.Millisecond), cost)
	}
	fmt.Printf("  %s %d ok, %d failed\n\n",
		dimStyle.Render("total:"), batch.SuccessCount(), batch.FailureCount())
}

// =============================================================================
// CONTEXT COMMANDS
// =============================================================================

// cmdFile attaches a file's content to the conversation context.
func (r *REPL) cmdFile(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /file PATH")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxAttachedFileSize {
		return fmt.Errorf("file too large: %d bytes (limit %d)", info.Size(), maxAttachedFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := r.eng.AttachFile(r.convID, info.Name(), string(data)); err != nil {
		return err
	}
	fmt.Printf("%s attached %s (%d bytes)\n",
		successStyle.Render("[OK]"), info.Name(), info.Size())
	return nil
}

// =============================================================================
// STATUS AND LISTING
// =============================================================================

func (r *REPL) cmdStatus() error {
	snap, err := r.eng.Snapshot(r.convID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Conversation Status"))
	fmt.Println(separator())
	fmt.Printf("  %s %s\n", infoStyle.Render("ID:"), snap.ID)
	fmt.Printf("  %s %s\n", infoStyle.Render("State:"), snap.State)
	fmt.Printf("  %s %s\n", infoStyle.Render("Started:"), snap.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  %s %d\n", infoStyle.Render("Turns:"), len(snap.Turns))
	fmt.Printf("  %s %s\n", infoStyle.Render("Model:"), valueStyle.Render(r.model))
	if len(snap.ModelsUsed) > 0 {
		fmt.Printf("  %s %s\n", infoStyle.Render("Models used:"), strings.Join(snap.ModelsUsed, ", "))
	}
	fmt.Printf("  %s %d in / %d out\n", infoStyle.Render("Tokens:"),
		snap.TotalInputTokens, snap.TotalOutputTokens)
	fmt.Printf("  %s %.4f cents\n", infoStyle.Render("Cost:"), snap.TotalCostCents)
	if len(snap.Files) > 0 {
		names := make([]string, len(snap.Files))
		for i, f := range snap.Files {
			names[i] = f.Name
		}
		fmt.Printf("  %s %s\n", infoStyle.Render("Files:"), strings.Join(names, ", "))
	}

	// All-time spend by model from the turn ledger.
	if r.led != nil {
		if spend, err := r.led.ModelSpend(); err == nil && len(spend) > 0 {
			fmt.Println()
			fmt.Println(infoStyle.Render("  All-time spend:"))
			ids := make([]string, 0, len(spend))
			for id := range spend {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("    %-24s %.4f cents\n", id, spend[id])
			}
		}
	}
	fmt.Println()
	return nil
}

func (r *REPL) cmdList() error {
	metas, err := r.store.List()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println(dimStyle.Render("[no saved conversations]"))
		return nil
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Saved Conversations"))
	fmt.Println(separator())
	for _, m := range metas {
		marker := " "
		if m.ID == r.convID {
			marker = valueStyle.Render("*")
		}
		fmt.Printf("%s %s  %s  %2d turns  %s\n",
			marker, m.ID, m.CreatedAt.Format("2006-01-02 15:04"),
			m.TurnCount, dimStyle.Render(m.Preview))
	}
	fmt.Println()
	return nil
}

// =============================================================================
// LIFECYCLE COMMANDS
// =============================================================================

// cmdRestore ends the current conversation and continues a saved one.
func (r *REPL) cmdRestore(id string) error {
	if id == "" {
		return fmt.Errorf("usage: /restore CONVERSATION_ID")
	}
	if id == r.convID {
		return fmt.Errorf("conversation %s is already live", id)
	}

	conv, err := r.eng.Restore(id)
	if err != nil {
		return err
	}

	// The previous conversation is persisted on its way out.
	if err := r.eng.End(r.convID); err != nil {
		fmt.Fprintf(os.Stderr, "%s ending %s: %v\n",
			warningStyle.Render("[Warning]"), r.convID, err)
	}
	r.convID = conv.ID()

	snap := conv.Snapshot()
	fmt.Printf("%s restored %s (%d turns)\n",
		successStyle.Render("[OK]"), conv.ID(), len(snap.Turns))
	return nil
}

// cmdExport writes the current conversation to the export directory.
func (r *REPL) cmdExport(format string) error {
	if format == "" {
		format = "markdown"
	}
	exporter, err := export.ForFormat(format, export.DefaultOptions())
	if err != nil {
		return err
	}
	snap, err := r.eng.Snapshot(r.convID)
	if err != nil {
		return err
	}
	path, err := export.WriteFile(exporter, snap, r.cfg.ExportDir())
	if err != nil {
		return err
	}
	fmt.Printf("%s exported to %s\n", successStyle.Render("[OK]"), path)
	return nil
}

// cmdEnd ends the current conversation and starts a fresh one.
func (r *REPL) cmdEnd() error {
	if err := r.eng.End(r.convID); err != nil {
		return err
	}
	ended := r.convID
	conv := r.eng.NewConversation()
	r.convID = conv.ID()
	fmt.Printf("%s ended %s\n", successStyle.Render("[OK]"), ended)
	fmt.Printf("%s %s\n", infoStyle.Render("[New conversation]"), valueStyle.Render(r.convID))
	return nil
}

// =============================================================================
// HELP AND STATS
// =============================================================================

func (r *REPL) printHelp() {
	fmt.Println()
	fmt.Println(headerStyle.Render("Commands"))
	fmt.Println(separator())

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/models", "List available models"},
		{"/model [name]", "Show or switch the current model"},
		{"/compare m1,m2 PROMPT", "Send one prompt to several models"},
		{"/file PATH", "Attach a file to the context"},
		{"/clear", "Clear conversation context"},
		{"/status", "Show conversation status"},
		{"/list", "List saved conversations"},
		{"/restore ID", "Restore a saved conversation"},
		{"/export [format]", "Export (markdown, json, html)"},
		{"/end", "End conversation, start a new one"},
		{"/quit, /q", "Exit"},
	}
	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			valueStyle.Render(fmt.Sprintf("%-22s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("Tip: Ctrl+C cancels the current call, Ctrl+D exits"))
	fmt.Println()
}

// printTurnStats shows the one-line stats footer after a response.
func (r *REPL) printTurnStats(rec model.TurnRecord, wall time.Duration) {
	cost := ""
	if rec.CostCents > 0 {
		cost = fmt.Sprintf(" | %.4f¢", rec.CostCents)
	} else if !rec.PricingKnown {
		cost = " | cost unknown"
	}
	summary := ""
	if rec.Summary != "" {
		summary = "\n" + dimStyle.Render("  ↳ "+util.TruncateRunes(rec.Summary, 100))
	}
	fmt.Fprintf(os.Stderr, "%s turn %d | %s | %d tokens | %s%s%s\n",
		dimStyle.Render("[Stats]"), rec.TurnNumber, rec.ModelID,
		rec.TotalTokens(), wall.Round(time.Millisecond), cost, summary)
}
