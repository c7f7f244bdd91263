// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// =============================================================================
// FAILURE KIND
// =============================================================================

// FailureKind categorizes why a provider call failed. Provider failures
// cross the dispatch boundary as values inside a TurnRecord, never as
// returned errors, so one model's failure stays visible alongside its
// siblings' successes in the same batch.
type FailureKind int

const (
	// FailureNone marks a successful call.
	FailureNone FailureKind = iota
	// FailureAuthRejected means the backend rejected the credentials.
	FailureAuthRejected
	// FailureRateLimited means the backend throttled the request.
	FailureRateLimited
	// FailureTimeout means the call exceeded its deadline.
	FailureTimeout
	// FailureUnreachable means the backend could not be reached.
	FailureUnreachable
	// FailureModelUnknown means the backend does not know the model id.
	FailureModelUnknown
	// FailureUnknown covers everything else.
	FailureUnknown
)

// String returns the human-readable name of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureAuthRejected:
		return "auth_rejected"
	case FailureRateLimited:
		return "rate_limited"
	case FailureTimeout:
		return "timeout"
	case FailureUnreachable:
		return "unreachable"
	case FailureModelUnknown:
		return "model_unknown"
	case FailureUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("FailureKind(%d)", k)
	}
}

// =============================================================================
// TURN RECORD
// =============================================================================

// TurnRecord is the immutable outcome of one provider call. It is created
// exactly once when the call completes and never mutated afterwards. A
// failed call still produces a record: it is visible to the user and
// counted in turn numbering.
type TurnRecord struct {
	TurnNumber int       `json:"turn_number"`
	BatchID    string    `json:"batch_id"`
	Prompt     string    `json:"prompt"`
	ModelID    string    `json:"model_id"`
	Timestamp  time.Time `json:"timestamp"`

	// Success fields
	Response     string        `json:"response,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	CostCents    float64       `json:"cost_cents,omitempty"`
	PricingKnown bool          `json:"pricing_known,omitempty"`

	// Failure fields
	FailureKind    FailureKind `json:"failure_kind,omitempty"`
	FailureMessage string      `json:"failure_message,omitempty"`
}

// Failed reports whether the record represents a failed call.
func (r TurnRecord) Failed() bool {
	return r.FailureKind != FailureNone
}

// TotalTokens returns input plus output tokens for the record.
func (r TurnRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Outcome returns a short human-readable outcome label for display and
// the ledger: "ok" for successes, the failure kind otherwise.
func (r TurnRecord) Outcome() string {
	if r.Failed() {
		return r.FailureKind.String()
	}
	return "ok"
}

// =============================================================================
// COMPARISON BATCH
// =============================================================================

// ComparisonBatch groups the turn records produced by dispatching one
// prompt to one or more models. A single-model send is a batch of size 1.
//
// Records are held in requested model order, not completion order, so the
// persisted history is reproducible independent of network timing.
type ComparisonBatch struct {
	ID          string       `json:"id"`
	Prompt      string       `json:"prompt"`
	ModelIDs    []string     `json:"model_ids"`
	Records     []TurnRecord `json:"records"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// SuccessCount returns the number of successful records in the batch.
func (b *ComparisonBatch) SuccessCount() int {
	n := 0
	for _, r := range b.Records {
		if !r.Failed() {
			n++
		}
	}
	return n
}

// FailureCount returns the number of failed records in the batch.
func (b *ComparisonBatch) FailureCount() int {
	return len(b.Records) - b.SuccessCount()
}

// RecordFor returns the record for the given model id, or nil.
func (b *ComparisonBatch) RecordFor(modelID string) *TurnRecord {
	for i := range b.Records {
		if b.Records[i].ModelID == modelID {
			return &b.Records[i]
		}
	}
	return nil
}

// NewBatchID creates a unique batch identifier.
func NewBatchID() string {
	return generateID("batch")
}
