// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

func testStore(t *testing.T) *SnapshotStore {
	t.Helper()
	store, err := NewSnapshotStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshotStoreWithDir: %v", err)
	}
	return store
}

func testSnapshot(id string, createdAt time.Time, state string) model.Snapshot {
	return model.Snapshot{
		ID:        id,
		CreatedAt: createdAt,
		State:     state,
		Turns: []model.TurnRecord{{
			TurnNumber: 1,
			Prompt:     "what is the capital of France",
			ModelID:    "llama3",
			Response:   "Paris",
		}},
		ModelsUsed:     []string{"llama3"},
		TotalCostCents: 0.25,
	}
}

func TestSaveAndLoad(t *testing.T) {
	store := testStore(t)
	snap := testSnapshot("conv_20250101_120000_abcd1234", time.Now(), "active")

	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(snap.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != snap.ID {
		t.Errorf("loaded id = %q, want %q", loaded.ID, snap.ID)
	}
	if len(loaded.Turns) != 1 || loaded.Turns[0].Response != "Paris" {
		t.Errorf("turns not round-tripped: %+v", loaded.Turns)
	}
	if loaded.TotalCostCents != 0.25 {
		t.Errorf("cost = %v, want 0.25", loaded.TotalCostCents)
	}
}

func TestLoadNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.Load("conv_missing")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSaveReplacesPrevious(t *testing.T) {
	store := testStore(t)
	snap := testSnapshot("conv_x", time.Now(), "active")
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap.State = "ended"
	snap.Turns = append(snap.Turns, model.TurnRecord{TurnNumber: 2, Prompt: "more", ModelID: "llama3", Response: "r"})
	if err := store.Save(snap); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	loaded, err := store.Load("conv_x")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.State != "ended" || len(loaded.Turns) != 2 {
		t.Errorf("second save not visible: state=%q turns=%d", loaded.State, len(loaded.Turns))
	}
}

func TestListMostRecentFirst(t *testing.T) {
	store := testStore(t)
	base := time.Now()
	for i, id := range []string{"conv_a", "conv_b", "conv_c"} {
		snap := testSnapshot(id, base.Add(time.Duration(i)*time.Hour), "ended")
		if err := store.Save(snap); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("got %d metas, want 3", len(metas))
	}
	if metas[0].ID != "conv_c" || metas[2].ID != "conv_a" {
		t.Errorf("order = %s, %s, %s; want conv_c first", metas[0].ID, metas[1].ID, metas[2].ID)
	}
	if metas[0].Preview == "" {
		t.Error("preview empty")
	}
	if metas[0].TurnCount != 1 {
		t.Errorf("turn count = %d, want 1", metas[0].TurnCount)
	}
}

func TestListSkipsCorruptFiles(t *testing.T) {
	store := testStore(t)
	if err := store.Save(testSnapshot("conv_good", time.Now(), "ended")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.BaseDir, "conv_bad.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != "conv_good" {
		t.Errorf("metas = %+v, want only conv_good", metas)
	}
}

func TestDelete(t *testing.T) {
	store := testStore(t)
	if err := store.Save(testSnapshot("conv_del", time.Now(), "ended")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete("conv_del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load("conv_del"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Error("snapshot still loadable after delete")
	}
	if err := store.Delete("conv_del"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("second delete err = %v, want not found", err)
	}
}

func TestEnforceLimitSparesActive(t *testing.T) {
	store := testStore(t)
	store.MaxConversations = 2

	base := time.Now().Add(-time.Hour)
	// Oldest is active; it must survive eviction.
	if err := store.Save(testSnapshot("conv_active", base, "active")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(testSnapshot("conv_old", base.Add(time.Minute), "ended")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(testSnapshot("conv_new", base.Add(2*time.Minute), "ended")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.Load("conv_active"); err != nil {
		t.Error("active conversation evicted")
	}
	if _, err := store.Load("conv_old"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Error("oldest ended conversation not evicted")
	}
	if _, err := store.Load("conv_new"); err != nil {
		t.Error("newest conversation evicted")
	}
}
