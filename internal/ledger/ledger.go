// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger records every turn durably in SQLite, independent of
// the JSON snapshot store. Snapshots are the restore path; the ledger is
// the audit trail, append-only per turn and queryable across
// conversations for spend review.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	conversation_id TEXT NOT NULL,
	turn_number     INTEGER NOT NULL,
	batch_id        TEXT NOT NULL,
	model_id        TEXT NOT NULL,
	prompt          TEXT NOT NULL,
	response        TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	outcome         TEXT NOT NULL,
	failure_message TEXT NOT NULL DEFAULT '',
	elapsed_ms      INTEGER NOT NULL DEFAULT 0,
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	cost_cents      REAL NOT NULL DEFAULT 0,
	pricing_known   INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, turn_number)
);

CREATE INDEX IF NOT EXISTS idx_turns_model ON turns(model_id);
CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);

CREATE TABLE IF NOT EXISTS conversations (
	id                  TEXT PRIMARY KEY,
	created_at          TIMESTAMP NOT NULL,
	ended_at            TIMESTAMP,
	turn_count          INTEGER NOT NULL DEFAULT 0,
	total_cost_cents    REAL NOT NULL DEFAULT 0,
	total_input_tokens  INTEGER NOT NULL DEFAULT 0,
	total_output_tokens INTEGER NOT NULL DEFAULT 0
);
`

// =============================================================================
// LEDGER
// =============================================================================

var ErrClosed = errors.New("ledger is closed")

// Ledger is the durable turn log. Safe for concurrent use; database/sql
// serializes access to the single SQLite connection.
type Ledger struct {
	db *sql.DB
}

// TurnRow is one ledger entry as read back from the database.
type TurnRow struct {
	ConversationID string
	TurnNumber     int
	BatchID        string
	ModelID        string
	Prompt         string
	Response       string
	Summary        string
	Outcome        string
	CostCents      float64
	InputTokens    int
	OutputTokens   int
	CreatedAt      time.Time
}

// Totals aggregates a conversation's ledger entries.
type Totals struct {
	TurnCount         int
	TotalCostCents    float64
	TotalInputTokens  int
	TotalOutputTokens int
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// =============================================================================
// WRITES
// =============================================================================

// AppendBatch writes one batch's records in a single transaction and
// refreshes the conversation's rollup row. The batch lands atomically:
// either every record of the comparison is in the ledger or none is.
func (l *Ledger) AppendBatch(snap model.Snapshot, records []model.TurnRecord) error {
	if l.db == nil {
		return ErrClosed
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO turns (
			conversation_id, turn_number, batch_id, model_id, prompt,
			response, summary, outcome, failure_message,
			elapsed_ms, input_tokens, output_tokens, cost_cents, pricing_known,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		pricingKnown := 0
		if r.PricingKnown {
			pricingKnown = 1
		}
		if _, err := stmt.Exec(
			snap.ID, r.TurnNumber, r.BatchID, r.ModelID, r.Prompt,
			r.Response, r.Summary, r.Outcome(), r.FailureMessage,
			r.Elapsed.Milliseconds(), r.InputTokens, r.OutputTokens, r.CostCents, pricingKnown,
			r.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", r.TurnNumber, err)
		}
	}

	if err := upsertConversation(tx, snap); err != nil {
		return err
	}

	return tx.Commit()
}

// RecordEnd finalizes the conversation rollup with its end time.
func (l *Ledger) RecordEnd(snap model.Snapshot) error {
	if l.db == nil {
		return ErrClosed
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertConversation(tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertConversation(tx *sql.Tx, snap model.Snapshot) error {
	var endedAt interface{}
	if snap.EndedAt != nil {
		endedAt = *snap.EndedAt
	}
	_, err := tx.Exec(`
		INSERT INTO conversations (
			id, created_at, ended_at, turn_count,
			total_cost_cents, total_input_tokens, total_output_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at            = excluded.ended_at,
			turn_count          = excluded.turn_count,
			total_cost_cents    = excluded.total_cost_cents,
			total_input_tokens  = excluded.total_input_tokens,
			total_output_tokens = excluded.total_output_tokens`,
		snap.ID, snap.CreatedAt, endedAt, len(snap.Turns),
		snap.TotalCostCents, snap.TotalInputTokens, snap.TotalOutputTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// RecentTurns returns the newest limit turns across all conversations.
func (l *Ledger) RecentTurns(limit int) ([]TurnRow, error) {
	if l.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.Query(`
		SELECT conversation_id, turn_number, batch_id, model_id, prompt,
		       response, summary, outcome, cost_cents,
		       input_tokens, output_tokens, created_at
		FROM turns
		ORDER BY created_at DESC, turn_number DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	return scanTurnRows(rows)
}

// ConversationTurns returns every ledger entry for one conversation in
// turn order.
func (l *Ledger) ConversationTurns(conversationID string) ([]TurnRow, error) {
	if l.db == nil {
		return nil, ErrClosed
	}

	rows, err := l.db.Query(`
		SELECT conversation_id, turn_number, batch_id, model_id, prompt,
		       response, summary, outcome, cost_cents,
		       input_tokens, output_tokens, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY turn_number`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	return scanTurnRows(rows)
}

// ConversationTotals aggregates a conversation's ledger entries. A
// conversation with no successful turns aggregates to zeroes.
func (l *Ledger) ConversationTotals(conversationID string) (Totals, error) {
	if l.db == nil {
		return Totals{}, ErrClosed
	}

	var t Totals
	err := l.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(cost_cents), 0),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0)
		FROM turns
		WHERE conversation_id = ?`, conversationID).
		Scan(&t.TurnCount, &t.TotalCostCents, &t.TotalInputTokens, &t.TotalOutputTokens)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to query totals: %w", err)
	}
	return t, nil
}

// ModelSpend returns the total cost in cents per model id, highest
// first.
func (l *Ledger) ModelSpend() (map[string]float64, error) {
	if l.db == nil {
		return nil, ErrClosed
	}

	rows, err := l.db.Query(`
		SELECT model_id, COALESCE(SUM(cost_cents), 0)
		FROM turns
		GROUP BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query spend: %w", err)
	}
	defer rows.Close()

	spend := make(map[string]float64)
	for rows.Next() {
		var id string
		var cents float64
		if err := rows.Scan(&id, &cents); err != nil {
			return nil, err
		}
		spend[id] = cents
	}
	return spend, rows.Err()
}

func scanTurnRows(rows *sql.Rows) ([]TurnRow, error) {
	var out []TurnRow
	for rows.Next() {
		var r TurnRow
		if err := rows.Scan(
			&r.ConversationID, &r.TurnNumber, &r.BatchID, &r.ModelID, &r.Prompt,
			&r.Response, &r.Summary, &r.Outcome, &r.CostCents,
			&r.InputTokens, &r.OutputTokens, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
