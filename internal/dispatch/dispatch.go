// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch fans one prompt out to several models concurrently
// and folds the results back into turn records.
//
// Every requested model yields exactly one record: a success, or a
// failure carrying its classified kind. One slow or broken backend never
// hides the others' results; a per-call deadline turns a hung call into
// a timeout record while its siblings finish normally.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event is delivered on the channel returned by Run. Exactly one Done
// event terminates the stream; Chunk and Progress events precede it in
// arrival order.
type Event struct {
	// Chunk carries incremental content from a streaming backend. Empty
	// for non-chunk events.
	Chunk   string
	ChunkID string // model id producing the chunk

	// Progress carries a completed record as soon as its call finishes,
	// in completion order. Nil for other events.
	Progress *model.TurnRecord

	// Done marks the end of the batch. Records are in requested model
	// order regardless of completion order.
	Done      bool
	Records   []model.TurnRecord
	Cancelled bool
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Resolver picks the adapter for a model id. *provider.Registry
// implements it.
type Resolver interface {
	AdapterFor(modelID string) (provider.Adapter, error)
}

const (
	// DefaultCallTimeout bounds a single provider call.
	DefaultCallTimeout = 120 * time.Second

	// maxConcurrentCalls bounds the fan-out; comparisons are small, the
	// cap only guards against pathological requests.
	maxConcurrentCalls = 8
)

// Coordinator runs comparison batches. Safe for concurrent use.
type Coordinator struct {
	resolver    Resolver
	callTimeout time.Duration
}

// New creates a coordinator. callTimeout <= 0 selects the default.
func New(resolver Resolver, callTimeout time.Duration) *Coordinator {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Coordinator{resolver: resolver, callTimeout: callTimeout}
}

// Run dispatches prompt to every model id concurrently and returns an
// event channel. The channel is closed after the Done event. The caller
// must drain the channel or cancel ctx; abandoning the channel with a
// live ctx blocks the workers on chunk delivery.
//
// Streaming chunks are forwarded only for single-model batches; in a
// comparison the interleaved chunks of several models are noise, so only
// completed records are reported.
func (c *Coordinator) Run(ctx context.Context, modelIDs []string, messages []model.Message, prompt string) <-chan Event {
	events := make(chan Event, len(modelIDs)+4)

	go func() {
		defer close(events)

		forwardChunks := len(modelIDs) == 1
		records := make([]model.TurnRecord, len(modelIDs))

		sem := make(chan struct{}, maxConcurrentCalls)
		var wg sync.WaitGroup

		for i, id := range modelIDs {
			wg.Add(1)
			go func(slot int, modelID string) {
				defer wg.Done()

				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					records[slot] = c.failureRecord(modelID, prompt, ctx.Err())
					return
				}

				var onChunk provider.StreamCallback
				if forwardChunks {
					onChunk = func(delta string) {
						select {
						case events <- Event{Chunk: delta, ChunkID: modelID}:
						case <-ctx.Done():
						}
					}
				}

				rec := c.call(ctx, modelID, messages, prompt, onChunk)
				records[slot] = rec

				select {
				case events <- Event{Progress: &rec}:
				case <-ctx.Done():
				}
			}(i, id)
		}

		wg.Wait()

		// A cancelled batch's consumer may have stopped reading; the
		// close below still signals completion if the send is skipped.
		select {
		case events <- Event{
			Done:      true,
			Records:   records,
			Cancelled: ctx.Err() != nil,
		}:
		case <-ctx.Done():
		}
	}()

	return events
}

// RunSync runs a batch and blocks for the final result.
func (c *Coordinator) RunSync(ctx context.Context, modelIDs []string, messages []model.Message, prompt string) (records []model.TurnRecord, cancelled bool) {
	for ev := range c.Run(ctx, modelIDs, messages, prompt) {
		if ev.Done {
			return ev.Records, ev.Cancelled
		}
	}
	return nil, true
}

// call performs one provider call under the per-call deadline and folds
// the outcome into a record.
func (c *Coordinator) call(ctx context.Context, modelID string, messages []model.Message, prompt string, onChunk provider.StreamCallback) model.TurnRecord {
	started := time.Now()

	adapter, err := c.resolver.AdapterFor(modelID)
	if err != nil {
		return c.failureRecord(modelID, prompt, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	reply, err := adapter.InvokeStream(callCtx, modelID, messages, onChunk)
	if err != nil {
		// A deadline we imposed is a timeout failure even if the
		// adapter reported the raw context error.
		if callCtx.Err() != nil && ctx.Err() == nil {
			return model.TurnRecord{
				Prompt:         prompt,
				ModelID:        modelID,
				Timestamp:      started,
				Elapsed:        time.Since(started),
				FailureKind:    model.FailureTimeout,
				FailureMessage: "call exceeded " + c.callTimeout.String(),
			}
		}
		return c.failureRecord(modelID, prompt, err)
	}

	return model.TurnRecord{
		Prompt:       prompt,
		ModelID:      modelID,
		Timestamp:    started,
		Response:     reply.Content,
		Elapsed:      reply.Elapsed,
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
	}
}

// failureRecord synthesizes the record for a failed call.
func (c *Coordinator) failureRecord(modelID, prompt string, err error) model.TurnRecord {
	kind := model.FailureUnknown
	msg := "call failed"
	var pe *provider.Error
	switch {
	case errors.As(err, &pe):
		kind = pe.Kind
		msg = pe.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = model.FailureTimeout
		msg = err.Error()
	case err != nil:
		msg = err.Error()
	}
	return model.TurnRecord{
		Prompt:         prompt,
		ModelID:        modelID,
		Timestamp:      time.Now(),
		FailureKind:    kind,
		FailureMessage: msg,
	}
}
