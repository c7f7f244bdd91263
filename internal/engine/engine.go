// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine orchestrates conversations: it owns the registry of
// active conversations and runs the full turn pipeline: validate,
// window, dispatch, price, summarize, append, persist.
package engine

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/dispatch"
	"github.com/jeranaias/parley/internal/ledger"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/pricing"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/window"
)

// =============================================================================
// ENGINE
// =============================================================================

// Options configures an Engine.
type Options struct {
	// Resolver routes model ids to adapters.
	Resolver dispatch.Resolver

	// Store persists conversation snapshots. Required.
	Store *storage.SnapshotStore

	// Ledger is the durable turn log. Optional; nil disables it.
	Ledger *ledger.Ledger

	// Pricing resolves costs. Nil uses the compiled-in table.
	Pricing *pricing.Table

	// ContextWindow is the number of turns sent with each prompt.
	// 0 sends the full history.
	ContextWindow int

	// CallTimeout bounds one provider call. 0 uses the dispatch default.
	CallTimeout time.Duration

	// SummaryTimeout bounds the summarization sub-call. 0 disables
	// summaries.
	SummaryTimeout time.Duration
}

// Engine is the conversation orchestrator. All conversation mutation in
// the process goes through it. Safe for concurrent use.
type Engine struct {
	mu    sync.Mutex
	convs map[string]*activeConversation

	coord    *dispatch.Coordinator
	resolver dispatch.Resolver
	store    *storage.SnapshotStore
	ledger   *ledger.Ledger
	pricing  *pricing.Table

	contextWindow  int
	summaryTimeout time.Duration

	// saveWG tracks in-flight async snapshot writes so Close can drain
	// them.
	saveWG sync.WaitGroup
}

type activeConversation struct {
	conv     *model.Conversation
	lastUsed time.Time
}

// New creates an engine.
func New(opts Options) *Engine {
	tbl := opts.Pricing
	if tbl == nil {
		tbl = pricing.NewTable()
	}
	return &Engine{
		convs:          make(map[string]*activeConversation),
		coord:          dispatch.New(opts.Resolver, opts.CallTimeout),
		resolver:       opts.Resolver,
		store:          opts.Store,
		ledger:         opts.Ledger,
		pricing:        tbl,
		contextWindow:  opts.ContextWindow,
		summaryTimeout: opts.SummaryTimeout,
	}
}

// Close drains in-flight snapshot writes.
func (e *Engine) Close() {
	e.saveWG.Wait()
}

// =============================================================================
// REGISTRY
// =============================================================================

// NewConversation creates and registers an active conversation.
func (e *Engine) NewConversation() *model.Conversation {
	conv := model.NewConversation()
	e.mu.Lock()
	e.convs[conv.ID()] = &activeConversation{conv: conv, lastUsed: time.Now()}
	e.mu.Unlock()
	return conv
}

// Get returns an active conversation by id.
func (e *Engine) Get(id string) (*model.Conversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.convs[id]
	if !ok {
		return nil, storage.ErrSnapshotNotFound
	}
	return entry.conv, nil
}

// ActiveIDs returns the ids of all registered conversations.
func (e *Engine) ActiveIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.convs))
	for id := range e.convs {
		ids = append(ids, id)
	}
	return ids
}

// touch refreshes a conversation's idle clock.
func (e *Engine) touch(id string) {
	e.mu.Lock()
	if entry, ok := e.convs[id]; ok {
		entry.lastUsed = time.Now()
	}
	e.mu.Unlock()
}

// Sweep ends and unregisters conversations idle longer than maxIdle.
// Each swept conversation is persisted like a normal End. Returns the
// ids swept.
func (e *Engine) Sweep(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	e.mu.Lock()
	var stale []string
	for id, entry := range e.convs {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	var swept []string
	for _, id := range stale {
		if err := e.End(id); err == nil {
			swept = append(swept, id)
		}
	}
	return swept
}

// Restore re-activates a persisted conversation. An id that is already
// active is an error; the caller holds the live handle.
func (e *Engine) Restore(id string) (*model.Conversation, error) {
	e.mu.Lock()
	if _, ok := e.convs[id]; ok {
		e.mu.Unlock()
		return nil, &model.InvalidRequestError{Reason: "conversation is already active: " + id}
	}
	e.mu.Unlock()

	snap, err := e.store.Load(id)
	if err != nil {
		return nil, err
	}
	conv := model.FromSnapshot(snap)

	e.mu.Lock()
	e.convs[id] = &activeConversation{conv: conv, lastUsed: time.Now()}
	e.mu.Unlock()
	return conv, nil
}

// =============================================================================
// TURN PIPELINE
// =============================================================================

// Send runs one prompt against one or more models and appends the
// resulting batch to the conversation. A single-model send is a
// comparison of size 1.
//
// onChunk receives incremental content for single-model sends from
// streaming backends; it may be nil.
//
// Failures of individual models are recorded in the batch, not returned
// as errors. Send itself errors only when the request is invalid, the
// conversation cannot accept turns, or the whole batch was cancelled;
// in the cancelled case nothing is appended.
func (e *Engine) Send(ctx context.Context, conversationID string, modelIDs []string, prompt string, onChunk func(modelID, delta string)) (*model.ComparisonBatch, error) {
	return e.SendWithProgress(ctx, conversationID, modelIDs, prompt, onChunk, nil)
}

// SendWithProgress is Send with an additional per-model completion
// callback. onProgress fires in completion order, before token
// estimation and pricing run; it is meant for live comparison display.
// Either callback may be nil.
func (e *Engine) SendWithProgress(ctx context.Context, conversationID string, modelIDs []string, prompt string, onChunk func(modelID, delta string), onProgress func(rec model.TurnRecord)) (*model.ComparisonBatch, error) {
	conv, err := e.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(modelIDs, prompt); err != nil {
		return nil, err
	}
	if conv.State() != model.StateActive {
		return nil, &model.InvalidStateError{Op: "send", State: conv.State()}
	}

	// Window the history. File context rides on the outgoing prompt
	// only; the recorded prompt stays clean.
	history := window.Clip(conv.Messages(), e.contextWindow)
	outgoing := prompt
	if fc := conv.FileContext(); fc != "" {
		outgoing = fc + "\n" + prompt
	}
	messages := make([]model.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, model.NewUserMessage(outgoing, 0))

	batch := &model.ComparisonBatch{
		ID:        model.NewBatchID(),
		Prompt:    prompt,
		ModelIDs:  append([]string(nil), modelIDs...),
		StartedAt: time.Now(),
	}

	records, cancelled := e.runDispatch(ctx, modelIDs, messages, prompt, onChunk, onProgress)
	if cancelled {
		// All or nothing: a cancelled batch leaves no trace in the
		// conversation.
		return nil, ctx.Err()
	}

	for i := range records {
		e.finishRecord(ctx, &records[i], messages)
	}

	batch.Records = records
	batch.CompletedAt = time.Now()

	if err := conv.AddBatch(batch); err != nil {
		return nil, err
	}
	e.touch(conversationID)

	snap := conv.Snapshot()
	if e.ledger != nil {
		if err := e.ledger.AppendBatch(snap, batch.Records); err != nil {
			log.Printf("ledger append failed for %s: %v", conversationID, err)
		}
	}
	e.saveAsync(snap)

	return batch, nil
}

// runDispatch runs the fan-out, forwarding chunk and progress events.
func (e *Engine) runDispatch(ctx context.Context, modelIDs []string, messages []model.Message, prompt string, onChunk func(modelID, delta string), onProgress func(rec model.TurnRecord)) ([]model.TurnRecord, bool) {
	for ev := range e.coord.Run(ctx, modelIDs, messages, prompt) {
		switch {
		case ev.Chunk != "" && onChunk != nil:
			onChunk(ev.ChunkID, ev.Chunk)
		case ev.Progress != nil && onProgress != nil:
			onProgress(*ev.Progress)
		case ev.Done:
			return ev.Records, ev.Cancelled
		}
	}
	return nil, true
}

// finishRecord fills in estimated tokens, cost, and the summary for a
// completed record.
func (e *Engine) finishRecord(ctx context.Context, rec *model.TurnRecord, sent []model.Message) {
	if rec.Failed() {
		return
	}

	// Backends that report no usage get the blended estimate.
	if rec.InputTokens == 0 {
		for _, m := range sent {
			rec.InputTokens += pricing.EstimateTokens(m.Content)
		}
	}
	if rec.OutputTokens == 0 {
		rec.OutputTokens = pricing.EstimateTokens(rec.Response)
	}

	rec.CostCents, rec.PricingKnown = e.pricing.Estimate(rec.ModelID, rec.InputTokens, rec.OutputTokens)

	if e.summaryTimeout > 0 {
		rec.Summary = e.summarize(ctx, rec.ModelID, rec.Prompt, rec.Response)
	}
}

// End moves a conversation to its terminal state, persists the final
// snapshot synchronously, and unregisters it. The snapshot write is
// awaited so a crash immediately after End cannot lose the ended state.
//
// The ended state only commits once the write is acknowledged: on a
// failed write the conversation is reopened, stays registered, and End
// can be retried. New batches are rejected for the duration of the
// write attempt.
func (e *Engine) End(conversationID string) error {
	conv, err := e.Get(conversationID)
	if err != nil {
		return err
	}
	if err := conv.End(); err != nil {
		return err
	}

	snap := conv.Snapshot()
	if err := e.store.Save(snap); err != nil {
		if reopenErr := conv.Reopen(); reopenErr != nil {
			log.Printf("reopen after failed end-write for %s: %v", conversationID, reopenErr)
		}
		return err
	}
	if e.ledger != nil {
		if err := e.ledger.RecordEnd(snap); err != nil {
			log.Printf("ledger end failed for %s: %v", conversationID, err)
		}
	}

	e.mu.Lock()
	delete(e.convs, conversationID)
	e.mu.Unlock()
	return nil
}

// ClearContext empties a conversation's provider-visible history.
func (e *Engine) ClearContext(conversationID string) error {
	conv, err := e.Get(conversationID)
	if err != nil {
		return err
	}
	if err := conv.ClearContext(); err != nil {
		return err
	}
	e.touch(conversationID)
	return nil
}

// AttachFile adds file content to a conversation's context.
func (e *Engine) AttachFile(conversationID, name, content string) error {
	conv, err := e.Get(conversationID)
	if err != nil {
		return err
	}
	if err := conv.AttachFile(name, content); err != nil {
		return err
	}
	e.touch(conversationID)
	return nil
}

// Snapshot returns a read-only copy of an active conversation.
func (e *Engine) Snapshot(conversationID string) (model.Snapshot, error) {
	conv, err := e.Get(conversationID)
	if err != nil {
		return model.Snapshot{}, err
	}
	return conv.Snapshot(), nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// saveAsync writes a snapshot in the background. Turn latency is not
// charged for the disk write; End does the final write synchronously.
func (e *Engine) saveAsync(snap model.Snapshot) {
	e.saveWG.Add(1)
	go func() {
		defer e.saveWG.Done()
		if err := e.store.Save(snap); err != nil {
			log.Printf("snapshot save failed for %s: %v", snap.ID, err)
		}
	}()
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateRequest(modelIDs []string, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return &model.InvalidRequestError{Reason: "empty prompt"}
	}
	if len(modelIDs) == 0 {
		return &model.InvalidRequestError{Reason: "no models requested"}
	}
	seen := make(map[string]bool, len(modelIDs))
	for _, id := range modelIDs {
		if strings.TrimSpace(id) == "" {
			return &model.InvalidRequestError{Reason: "empty model id"}
		}
		if seen[id] {
			return &model.InvalidRequestError{Reason: "duplicate model id: " + id}
		}
		seen[id] = true
	}
	return nil
}
