// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation snapshots as JSON files, one
// per conversation, for crash recovery and restore.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrSnapshotNotFound is returned when a conversation snapshot doesn't
// exist. Use errors.Is(err, ErrSnapshotNotFound) to check.
var ErrSnapshotNotFound = &StoreError{Message: "conversation snapshot not found"}

// StoreError represents a persistence error.
type StoreError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

// SnapshotMeta contains metadata for listing stored conversations.
type SnapshotMeta struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	TurnCount  int       `json:"turn_count"`
	ModelsUsed []string  `json:"models_used"`
	CostCents  float64   `json:"cost_cents"`
	Preview    string    `json:"preview"` // first prompt, truncated
}

// SnapshotStore persists conversation snapshots under BaseDir, one JSON
// file per conversation id.
type SnapshotStore struct {
	// BaseDir is the snapshot directory.
	// Default: ~/.parley/conversations/
	BaseDir string

	// MaxConversations limits stored snapshots (0 = unlimited). The
	// oldest ended conversations are evicted first.
	MaxConversations int
}

// NewSnapshotStore creates a store under the user's home directory.
func NewSnapshotStore() (*SnapshotStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewSnapshotStoreWithDir(filepath.Join(homeDir, ".parley", "conversations"))
}

// NewSnapshotStoreWithDir creates a store with a custom directory.
func NewSnapshotStoreWithDir(baseDir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &SnapshotStore{
		BaseDir:          baseDir,
		MaxConversations: 200,
	}, nil
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

// Save persists a snapshot, replacing any previous snapshot of the same
// conversation.
func (s *SnapshotStore) Save(snap model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &StoreError{Message: "failed to marshal snapshot", Cause: err}
	}

	// RELIABILITY: Atomic write with fsync prevents a torn snapshot on
	// crash; the previous snapshot survives until rename.
	if err := util.AtomicWriteFile(s.filePath(snap.ID), data, 0644); err != nil {
		return &StoreError{Message: "failed to write snapshot", Cause: err}
	}

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return nil
}

// Load retrieves a snapshot by conversation id.
func (s *SnapshotStore) Load(id string) (model.Snapshot, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Snapshot{}, ErrSnapshotNotFound
		}
		return model.Snapshot{}, &StoreError{Message: "failed to read snapshot", Cause: err}
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, &StoreError{Message: "failed to parse snapshot", Cause: err}
	}
	return snap, nil
}

// =============================================================================
// LIST / DELETE
// =============================================================================

// List returns metadata for all stored conversations, most recent first.
// Corrupted files are skipped.
func (s *SnapshotStore) List() ([]SnapshotMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SnapshotMeta{}, nil
		}
		return nil, err
	}

	var metas []SnapshotMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		snap, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		preview := ""
		if len(snap.Turns) > 0 {
			preview = util.TruncateRunes(strings.ReplaceAll(snap.Turns[0].Prompt, "\n", " "), 80)
		}

		metas = append(metas, SnapshotMeta{
			ID:         snap.ID,
			State:      snap.State,
			CreatedAt:  snap.CreatedAt,
			TurnCount:  len(snap.Turns),
			ModelsUsed: snap.ModelsUsed,
			CostCents:  snap.TotalCostCents,
			Preview:    preview,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Delete removes a snapshot by conversation id.
func (s *SnapshotStore) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrSnapshotNotFound
		}
		return err
	}
	return nil
}

// enforceLimit evicts the oldest snapshots when over the limit. Active
// conversations are never evicted.
func (s *SnapshotStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	// Oldest first
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})

	excess := len(metas) - s.MaxConversations
	for _, meta := range metas {
		if excess <= 0 {
			break
		}
		if meta.State == "active" {
			continue
		}
		if s.Delete(meta.ID) == nil {
			excess--
		}
	}
}

// filePath returns the snapshot path for a conversation id.
func (s *SnapshotStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}
