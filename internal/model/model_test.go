// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func successRecord(modelID, prompt, response string) TurnRecord {
	return TurnRecord{
		Prompt:       prompt,
		ModelID:      modelID,
		Timestamp:    time.Now(),
		Response:     response,
		InputTokens:  10,
		OutputTokens: 20,
		CostCents:    0.5,
		PricingKnown: true,
	}
}

func failedRecord(modelID, prompt string, kind FailureKind) TurnRecord {
	return TurnRecord{
		Prompt:         prompt,
		ModelID:        modelID,
		Timestamp:      time.Now(),
		FailureKind:    kind,
		FailureMessage: kind.String(),
	}
}

func batchOf(prompt string, records ...TurnRecord) *ComparisonBatch {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ModelID
	}
	return &ComparisonBatch{
		ID:          NewBatchID(),
		Prompt:      prompt,
		ModelIDs:    ids,
		Records:     records,
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
	}
}

func TestNewConversationID(t *testing.T) {
	c := NewConversation()

	if !strings.HasPrefix(c.ID(), "conv_") {
		t.Errorf("ID = %q, want conv_ prefix", c.ID())
	}
	// conv_YYYYMMDD_HHMMSS_xxxxxxxx
	parts := strings.Split(c.ID(), "_")
	if len(parts) != 4 {
		t.Fatalf("ID %q has %d parts, want 4", c.ID(), len(parts))
	}
	if len(parts[1]) != 8 || len(parts[2]) != 6 || len(parts[3]) != 8 {
		t.Errorf("ID %q parts have wrong lengths", c.ID())
	}
	if c.State() != StateActive {
		t.Errorf("new conversation state = %v, want active", c.State())
	}
}

func TestNewConversationIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewConversation().ID()
		if seen[id] {
			t.Fatalf("duplicate conversation id %q", id)
		}
		seen[id] = true
	}
}

func TestAddBatchAssignsTurnNumbers(t *testing.T) {
	c := NewConversation()

	b1 := batchOf("first", successRecord("llama3", "first", "a"))
	if err := c.AddBatch(b1); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	b2 := batchOf("second",
		successRecord("llama3", "second", "b"),
		successRecord("claude-sonnet-4", "second", "c"))
	if err := c.AddBatch(b2); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	turns := c.Turns()
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	for i, tr := range turns {
		if tr.TurnNumber != i+1 {
			t.Errorf("turn[%d].TurnNumber = %d, want %d", i, tr.TurnNumber, i+1)
		}
	}
	if turns[1].ModelID != "llama3" || turns[2].ModelID != "claude-sonnet-4" {
		t.Errorf("batch records not in requested order: %q, %q",
			turns[1].ModelID, turns[2].ModelID)
	}
	if turns[1].BatchID != b2.ID || turns[2].BatchID != b2.ID {
		t.Error("batch id not stamped onto records")
	}
}

func TestAddBatchFailedRecordAdvancesNumbering(t *testing.T) {
	c := NewConversation()

	b := batchOf("hello",
		successRecord("llama3", "hello", "hi"),
		failedRecord("claude-sonnet-4", "hello", FailureTimeout))
	if err := c.AddBatch(b); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	b2 := batchOf("again", successRecord("llama3", "again", "yo"))
	if err := c.AddBatch(b2); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	turns := c.Turns()
	if turns[1].TurnNumber != 2 {
		t.Errorf("failed record turn number = %d, want 2", turns[1].TurnNumber)
	}
	if turns[2].TurnNumber != 3 {
		t.Errorf("turn after failure = %d, want 3 (no reuse, no gap)", turns[2].TurnNumber)
	}
}

func TestAddBatchTotalsExcludeFailures(t *testing.T) {
	c := NewConversation()

	b := batchOf("q",
		successRecord("claude-sonnet-4", "q", "a"),
		failedRecord("llama3", "q", FailureUnreachable))
	if err := c.AddBatch(b); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	cost, in, out := c.Totals()
	if cost != 0.5 {
		t.Errorf("cost = %v, want 0.5", cost)
	}
	if in != 10 || out != 20 {
		t.Errorf("tokens = %d/%d, want 10/20", in, out)
	}
}

func TestAddBatchMessagesOnlyFromSuccesses(t *testing.T) {
	c := NewConversation()

	b := batchOf("q",
		successRecord("llama3", "q", "a"),
		failedRecord("claude-sonnet-4", "q", FailureAuthRejected))
	if err := c.AddBatch(b); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (one user/assistant pair)", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("message roles = %v, %v, want user, assistant", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].ModelID != "llama3" {
		t.Errorf("assistant message model = %q, want llama3", msgs[1].ModelID)
	}
}

func TestModelsUsedIncludesFailures(t *testing.T) {
	c := NewConversation()

	b := batchOf("q",
		successRecord("llama3", "q", "a"),
		failedRecord("claude-sonnet-4", "q", FailureRateLimited))
	if err := c.AddBatch(b); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	got := c.ModelsUsed()
	want := []string{"claude-sonnet-4", "llama3"}
	if len(got) != len(want) {
		t.Fatalf("ModelsUsed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ModelsUsed[%d] = %q, want %q (sorted)", i, got[i], want[i])
		}
	}
}

func TestEndIsTerminal(t *testing.T) {
	c := NewConversation()

	if err := c.End(); err != nil {
		t.Fatalf("first End: %v", err)
	}
	if c.State() != StateEnded {
		t.Errorf("state = %v, want ended", c.State())
	}
	if c.EndedAt().IsZero() {
		t.Error("EndedAt not set")
	}

	if err := c.End(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second End = %v, want InvalidStateError", err)
	}
	b := batchOf("late", successRecord("llama3", "late", "no"))
	if err := c.AddBatch(b); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AddBatch after End = %v, want InvalidStateError", err)
	}
	if c.TurnCount() != 0 {
		t.Error("rejected batch mutated the conversation")
	}
}

func TestReopenUndoesEnd(t *testing.T) {
	c := NewConversation()

	if err := c.Reopen(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Reopen while active = %v, want InvalidStateError", err)
	}

	if err := c.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := c.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if c.State() != StateActive {
		t.Errorf("state = %v, want active", c.State())
	}
	if !c.EndedAt().IsZero() {
		t.Error("EndedAt survived Reopen")
	}

	// A reopened conversation accepts turns again.
	b := batchOf("again", successRecord("llama3", "again", "yes"))
	if err := c.AddBatch(b); err != nil {
		t.Fatalf("AddBatch after Reopen: %v", err)
	}
	if c.TurnCount() != 1 {
		t.Errorf("turns = %d, want 1", c.TurnCount())
	}
}

func TestAddBatchConcurrentNumbering(t *testing.T) {
	c := NewConversation()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := batchOf("p",
				successRecord("llama3", "p", "r1"),
				successRecord("mistral", "p", "r2"))
			if err := c.AddBatch(b); err != nil {
				t.Errorf("AddBatch: %v", err)
			}
		}()
	}
	wg.Wait()

	turns := c.Turns()
	if len(turns) != workers*2 {
		t.Fatalf("got %d turns, want %d", len(turns), workers*2)
	}
	for i, tr := range turns {
		if tr.TurnNumber != i+1 {
			t.Fatalf("turn numbers not gapless: index %d has number %d", i, tr.TurnNumber)
		}
	}
}

func TestClearContextKeepsTurns(t *testing.T) {
	c := NewConversation()
	b := batchOf("q", successRecord("llama3", "q", "a"))
	if err := c.AddBatch(b); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	if err := c.ClearContext(); err != nil {
		t.Fatalf("ClearContext: %v", err)
	}
	if len(c.Messages()) != 0 {
		t.Error("messages survive ClearContext")
	}
	if c.TurnCount() != 1 {
		t.Error("ClearContext dropped turns")
	}
	cost, _, _ := c.Totals()
	if cost != 0.5 {
		t.Error("ClearContext reset totals")
	}
}

func TestFileContext(t *testing.T) {
	c := NewConversation()

	if c.FileContext() != "" {
		t.Error("FileContext non-empty with no files")
	}
	if err := c.AttachFile("notes.txt", "remember the milk"); err != nil {
		t.Fatalf("AttachFile: %v", err)
	}
	ctx := c.FileContext()
	if !strings.Contains(ctx, "--- File: notes.txt ---") {
		t.Errorf("FileContext missing frame header: %q", ctx)
	}
	if !strings.Contains(ctx, "remember the milk") {
		t.Errorf("FileContext missing content: %q", ctx)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := NewConversation()
	b := batchOf("q",
		successRecord("llama3", "q", "a"),
		failedRecord("claude-sonnet-4", "q", FailureTimeout))
	if err := c.AddBatch(b); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if err := c.AttachFile("f.txt", "body"); err != nil {
		t.Fatalf("AttachFile: %v", err)
	}

	snap := c.Snapshot()
	if snap.ID != c.ID() {
		t.Errorf("snapshot id = %q, want %q", snap.ID, c.ID())
	}
	if snap.State != "active" {
		t.Errorf("snapshot state = %q, want active", snap.State)
	}
	if snap.EndedAt != nil {
		t.Error("active snapshot has EndedAt")
	}

	restored := FromSnapshot(snap)
	if restored.ID() != c.ID() {
		t.Errorf("restored id = %q, want %q", restored.ID(), c.ID())
	}
	if restored.State() != StateActive {
		t.Errorf("restored state = %v, want active", restored.State())
	}
	if restored.TurnCount() != 2 {
		t.Errorf("restored turns = %d, want 2", restored.TurnCount())
	}
	cost, in, out := restored.Totals()
	wantCost, wantIn, wantOut := c.Totals()
	if cost != wantCost || in != wantIn || out != wantOut {
		t.Error("restored totals differ from original")
	}

	// New turns continue the original numbering.
	b2 := batchOf("more", successRecord("llama3", "more", "x"))
	if err := restored.AddBatch(b2); err != nil {
		t.Fatalf("AddBatch on restored: %v", err)
	}
	turns := restored.Turns()
	if turns[len(turns)-1].TurnNumber != 3 {
		t.Errorf("turn number after restore = %d, want 3", turns[len(turns)-1].TurnNumber)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c := NewConversation()
	b := batchOf("q", successRecord("llama3", "q", "a"))
	if err := c.AddBatch(b); err != nil {
		t.Fatalf("AddBatch: %v", err)
	}

	snap := c.Snapshot()
	snap.Turns[0].Response = "tampered"

	if c.Turns()[0].Response != "a" {
		t.Error("mutating a snapshot leaked into the conversation")
	}
}

func TestEndedSnapshotState(t *testing.T) {
	c := NewConversation()
	if err := c.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	snap := c.Snapshot()
	if snap.State != "ended" {
		t.Errorf("snapshot state = %q, want ended", snap.State)
	}
	if snap.EndedAt == nil {
		t.Error("ended snapshot missing EndedAt")
	}
}

func TestBatchCounts(t *testing.T) {
	b := batchOf("q",
		successRecord("a", "q", "r"),
		failedRecord("b", "q", FailureUnknown),
		successRecord("c", "q", "r"))

	if b.SuccessCount() != 2 {
		t.Errorf("SuccessCount = %d, want 2", b.SuccessCount())
	}
	if b.FailureCount() != 1 {
		t.Errorf("FailureCount = %d, want 1", b.FailureCount())
	}
	if r := b.RecordFor("b"); r == nil || !r.Failed() {
		t.Error("RecordFor(b) should return the failed record")
	}
	if b.RecordFor("missing") != nil {
		t.Error("RecordFor(missing) should be nil")
	}
}

func TestTurnRecordOutcome(t *testing.T) {
	ok := successRecord("m", "p", "r")
	if ok.Outcome() != "ok" {
		t.Errorf("success outcome = %q, want ok", ok.Outcome())
	}
	bad := failedRecord("m", "p", FailureRateLimited)
	if bad.Outcome() != "rate_limited" {
		t.Errorf("failure outcome = %q, want rate_limited", bad.Outcome())
	}
}

func TestMessagePreview(t *testing.T) {
	m := Message{Content: "hello world"}
	if got := m.Preview(20); got != "hello world" {
		t.Errorf("Preview(20) = %q", got)
	}
	if got := m.Preview(8); got != "hello..." {
		t.Errorf("Preview(8) = %q, want hello...", got)
	}
}

func TestInvalidRequestErrorIs(t *testing.T) {
	err := &InvalidRequestError{Reason: "no models requested"}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Error("errors.Is failed for InvalidRequestError")
	}
	if errors.Is(err, ErrInvalidState) {
		t.Error("InvalidRequestError matched InvalidStateError")
	}
	if !strings.Contains(err.Error(), "no models requested") {
		t.Errorf("Error() = %q, missing reason", err.Error())
	}
}
