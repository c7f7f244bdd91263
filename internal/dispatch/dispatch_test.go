// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/provider/providertest"
)

// fakeResolver routes every model id to the same fake adapter.
type fakeResolver struct {
	fake *providertest.Fake
}

func (r *fakeResolver) AdapterFor(modelID string) (provider.Adapter, error) {
	return r.fake, nil
}

func newCoordinator(fake *providertest.Fake, timeout time.Duration) *Coordinator {
	return New(&fakeResolver{fake: fake}, timeout)
}

func TestRunSyncEveryModelGetsARecord(t *testing.T) {
	fake := providertest.New()
	fake.Set("a", providertest.Script{Content: "ra", Latency: 30 * time.Millisecond})
	fake.Set("b", providertest.Script{Content: "rb"})
	failKind := model.FailureRateLimited
	fake.Set("c", providertest.Script{Fail: &failKind})

	coord := newCoordinator(fake, time.Second)
	records, cancelled := coord.RunSync(context.Background(), []string{"a", "b", "c"}, nil, "q")
	if cancelled {
		t.Fatal("batch reported cancelled")
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	// Requested order, not completion order: "a" is slowest but first.
	if records[0].ModelID != "a" || records[1].ModelID != "b" || records[2].ModelID != "c" {
		t.Errorf("record order = %s, %s, %s; want a, b, c",
			records[0].ModelID, records[1].ModelID, records[2].ModelID)
	}
	if records[0].Response != "ra" || records[0].Failed() {
		t.Errorf("record a = %+v", records[0])
	}
	if records[2].FailureKind != model.FailureRateLimited {
		t.Errorf("record c kind = %v, want rate_limited", records[2].FailureKind)
	}
}

func TestRunProgressInCompletionOrder(t *testing.T) {
	fake := providertest.New()
	fake.Set("slow", providertest.Script{Content: "s", Latency: 80 * time.Millisecond})
	fake.Set("fast", providertest.Script{Content: "f"})

	coord := newCoordinator(fake, time.Second)
	var progress []string
	for ev := range coord.Run(context.Background(), []string{"slow", "fast"}, nil, "q") {
		if ev.Progress != nil {
			progress = append(progress, ev.Progress.ModelID)
		}
	}
	if len(progress) != 2 {
		t.Fatalf("got %d progress events, want 2", len(progress))
	}
	if progress[0] != "fast" || progress[1] != "slow" {
		t.Errorf("progress order = %v, want fast then slow", progress)
	}
}

func TestRunTimeoutIsolated(t *testing.T) {
	fake := providertest.New()
	fake.Set("hung", providertest.Script{Content: "never", Latency: 5 * time.Second})
	fake.Set("ok", providertest.Script{Content: "done"})

	coord := newCoordinator(fake, 50*time.Millisecond)
	records, cancelled := coord.RunSync(context.Background(), []string{"hung", "ok"}, nil, "q")
	if cancelled {
		t.Fatal("batch reported cancelled")
	}
	if records[0].FailureKind != model.FailureTimeout {
		t.Errorf("hung record kind = %v, want timeout", records[0].FailureKind)
	}
	if records[1].Failed() || records[1].Response != "done" {
		t.Errorf("sibling affected by timeout: %+v", records[1])
	}
}

func TestRunCancellation(t *testing.T) {
	fake := providertest.New()
	fake.Set("a", providertest.Script{Content: "x", Latency: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	coord := newCoordinator(fake, time.Minute)
	_, cancelled := coord.RunSync(ctx, []string{"a"}, nil, "q")
	if !cancelled {
		t.Error("cancelled batch not flagged")
	}
}

func TestRunSingleModelForwardsChunks(t *testing.T) {
	fake := providertest.New()
	fake.Set("a", providertest.Script{Content: "hello"})

	coord := newCoordinator(fake, time.Second)
	var chunks int
	for ev := range coord.Run(context.Background(), []string{"a"}, nil, "q") {
		if ev.Chunk != "" {
			chunks++
			if ev.ChunkID != "a" {
				t.Errorf("chunk model = %q, want a", ev.ChunkID)
			}
		}
	}
	if chunks == 0 {
		t.Error("no chunks forwarded for single-model batch")
	}
}

func TestRunComparisonSuppressesChunks(t *testing.T) {
	fake := providertest.New()
	fake.Set("a", providertest.Script{Content: "one"})
	fake.Set("b", providertest.Script{Content: "two"})

	coord := newCoordinator(fake, time.Second)
	for ev := range coord.Run(context.Background(), []string{"a", "b"}, nil, "q") {
		if ev.Chunk != "" {
			t.Fatal("comparison batch forwarded chunks")
		}
	}
}

func TestRunAbandonedConsumerClosesOnCancel(t *testing.T) {
	fake := providertest.New()
	fake.Set("a", providertest.Script{Content: "x", Latency: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	coord := newCoordinator(fake, time.Minute)

	// The consumer walks away without reading a single event; cancelling
	// ctx must still let the batch wind down and close the channel.
	events := coord.Run(ctx, []string{"a"}, nil, "q")
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after cancel")
		}
	}
}

func TestRunUnknownModelRecorded(t *testing.T) {
	fake := providertest.New() // nothing scripted

	coord := newCoordinator(fake, time.Second)
	records, _ := coord.RunSync(context.Background(), []string{"ghost"}, nil, "q")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].FailureKind != model.FailureModelUnknown {
		t.Errorf("kind = %v, want model_unknown", records[0].FailureKind)
	}
}
