// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LIFECYCLE STATE
// =============================================================================

// State is the lifecycle state of a conversation.
type State int

const (
	// StateActive accepts new turns.
	StateActive State = iota
	// StateEnded is terminal; all totals are frozen.
	StateEnded
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// =============================================================================
// ATTACHED FILES
// =============================================================================

// AttachedFile is a file uploaded into the conversation context. Its
// content prefixes outgoing prompts but is never stored in turn records.
type AttachedFile struct {
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation owns the ordered turn history and running totals for one
// chat session. The message history is always derivable by replaying the
// turns in order: AddBatch appends both together under one lock, and
// nothing else mutates either.
//
// Turn numbers form a strictly increasing, gapless sequence starting at 1.
type Conversation struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	endedAt   time.Time
	state     State

	turns    []TurnRecord
	messages []Message

	modelsUsed map[string]struct{}

	totalCostCents    float64
	totalInputTokens  int
	totalOutputTokens int

	files []AttachedFile
}

// NewConversation creates an active conversation with a generated id of
// the form conv_YYYYMMDD_HHMMSS_xxxxxxxx.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		id:         "conv_" + now.Format("20060102_150405") + "_" + uuid.NewString()[:8],
		createdAt:  now,
		state:      StateActive,
		modelsUsed: make(map[string]struct{}),
	}
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// ID returns the conversation identifier.
func (c *Conversation) ID() string {
	return c.id
}

// CreatedAt returns the creation time.
func (c *Conversation) CreatedAt() time.Time {
	return c.createdAt
}

// EndedAt returns the end time, zero while the conversation is active.
func (c *Conversation) EndedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endedAt
}

// State returns the current lifecycle state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TurnCount returns the number of recorded turns.
func (c *Conversation) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Turns returns a copy of the turn history.
func (c *Conversation) Turns() []TurnRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TurnRecord, len(c.turns))
	copy(out, c.turns)
	return out
}

// Messages returns a copy of the derived message history.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ModelsUsed returns the sorted set of model ids that have appeared in
// any turn, successful or not.
func (c *Conversation) ModelsUsed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelsUsedLocked()
}

func (c *Conversation) modelsUsedLocked() []string {
	out := make([]string, 0, len(c.modelsUsed))
	for m := range c.modelsUsed {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Totals returns the running cost and token totals.
func (c *Conversation) Totals() (costCents float64, inputTokens, outputTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCostCents, c.totalInputTokens, c.totalOutputTokens
}

// =============================================================================
// FILE CONTEXT
// =============================================================================

// AttachFile adds a file to the conversation context.
func (c *Conversation) AttachFile(name, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return &InvalidStateError{Op: "attach file", State: c.state}
	}
	c.files = append(c.files, AttachedFile{
		Name:       name,
		Content:    content,
		UploadedAt: time.Now(),
	})
	return nil
}

// FileContext returns the attached files framed for inclusion ahead of a
// prompt, or the empty string when no files are attached.
func (c *Conversation) FileContext() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.files) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range c.files {
		sb.WriteString("\n--- File: ")
		sb.WriteString(f.Name)
		sb.WriteString(" ---\n")
		sb.WriteString(f.Content)
		sb.WriteString("\n--- End of file ---\n")
	}
	return sb.String()
}

// ClearContext empties the message window sent to providers while keeping
// every logged turn and the running totals intact.
func (c *Conversation) ClearContext() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return &InvalidStateError{Op: "clear context", State: c.state}
	}
	c.messages = nil
	return nil
}

// =============================================================================
// MUTATION
// =============================================================================

// AddBatch appends a completed comparison batch to the conversation.
// Turn numbers are assigned here, atomically with the append, so two
// batches submitted back-to-back can never race on numbering. Records in
// the batch receive consecutive numbers in requested model order.
//
// Failed records advance turn numbering and register their model id, but
// contribute nothing to cost or token totals and no messages.
func (c *Conversation) AddBatch(batch *ComparisonBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return &InvalidStateError{Op: "add turn", State: c.state}
	}

	next := len(c.turns) + 1
	for i := range batch.Records {
		rec := &batch.Records[i]
		rec.TurnNumber = next + i
		rec.BatchID = batch.ID

		c.modelsUsed[rec.ModelID] = struct{}{}

		if !rec.Failed() {
			c.totalCostCents += rec.CostCents
			c.totalInputTokens += rec.InputTokens
			c.totalOutputTokens += rec.OutputTokens

			c.messages = append(c.messages,
				NewUserMessage(rec.Prompt, rec.TurnNumber),
				NewAssistantMessage(rec.Response, rec.ModelID, rec.TurnNumber))
		}

		c.turns = append(c.turns, *rec)
	}

	return nil
}

// End moves the conversation to the terminal Ended state and freezes all
// totals. Ending twice, or mutating afterwards, returns InvalidStateError
// and leaves the conversation unchanged.
func (c *Conversation) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return &InvalidStateError{Op: "end", State: c.state}
	}
	c.state = StateEnded
	c.endedAt = time.Now()
	return nil
}

// Reopen is the undo for End: it returns an ended conversation to
// Active and clears the end time, so a failed end-of-conversation
// persist can be retried. Reopening an active conversation returns
// InvalidStateError.
func (c *Conversation) Reopen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEnded {
		return &InvalidStateError{Op: "reopen", State: c.state}
	}
	c.state = StateActive
	c.endedAt = time.Time{}
	return nil
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a read-only copy of a conversation handed to persistence
// and export collaborators. It carries plain data only.
type Snapshot struct {
	ID                string         `json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	State             string         `json:"state"`
	Turns             []TurnRecord   `json:"turns"`
	Messages          []Message      `json:"messages"`
	ModelsUsed        []string       `json:"models_used"`
	TotalCostCents    float64        `json:"total_cost_cents"`
	TotalInputTokens  int            `json:"total_input_tokens"`
	TotalOutputTokens int            `json:"total_output_tokens"`
	Files             []AttachedFile `json:"files,omitempty"`
}

// Snapshot returns a deep read-only copy of the conversation.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ID:                c.id,
		CreatedAt:         c.createdAt,
		State:             c.state.String(),
		Turns:             make([]TurnRecord, len(c.turns)),
		Messages:          make([]Message, len(c.messages)),
		ModelsUsed:        c.modelsUsedLocked(),
		TotalCostCents:    c.totalCostCents,
		TotalInputTokens:  c.totalInputTokens,
		TotalOutputTokens: c.totalOutputTokens,
		Files:             make([]AttachedFile, len(c.files)),
	}
	copy(snap.Turns, c.turns)
	copy(snap.Messages, c.messages)
	copy(snap.Files, c.files)
	if !c.endedAt.IsZero() {
		t := c.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// FromSnapshot rebuilds an active conversation from a persisted snapshot,
// replaying totals and history. Used by the restore path; the returned
// conversation accepts new turns.
func FromSnapshot(snap Snapshot) *Conversation {
	c := &Conversation{
		id:         snap.ID,
		createdAt:  snap.CreatedAt,
		state:      StateActive,
		modelsUsed: make(map[string]struct{}),
	}
	for _, m := range snap.ModelsUsed {
		c.modelsUsed[m] = struct{}{}
	}
	c.turns = make([]TurnRecord, len(snap.Turns))
	copy(c.turns, snap.Turns)
	c.messages = make([]Message, len(snap.Messages))
	copy(c.messages, snap.Messages)
	c.files = make([]AttachedFile, len(snap.Files))
	copy(c.files, snap.Files)
	c.totalCostCents = snap.TotalCostCents
	c.totalInputTokens = snap.TotalInputTokens
	c.totalOutputTokens = snap.TotalOutputTokens
	return c
}
