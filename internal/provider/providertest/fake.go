// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package providertest provides a scriptable in-memory adapter for
// exercising dispatch and engine behavior without a network.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// Script controls how the fake answers one model id.
type Script struct {
	// Content is the reply body on success.
	Content string
	// InputTokens and OutputTokens are the reported usage.
	InputTokens  int
	OutputTokens int
	// Latency delays the reply; the fake honors ctx cancellation while
	// waiting, returning a timeout failure like a real adapter.
	Latency time.Duration
	// Fail, when non-nil, makes every call fail with this kind.
	Fail *model.FailureKind
}

// Fake is a scriptable Adapter. Unscripted model ids fail with
// FailureModelUnknown.
type Fake struct {
	mu      sync.Mutex
	scripts map[string]Script
	calls   []string
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{scripts: make(map[string]Script)}
}

// Set installs the script for a model id.
func (f *Fake) Set(modelID string, s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[modelID] = s
}

// Calls returns the model ids invoked so far, in call order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Name implements provider.Adapter.
func (f *Fake) Name() string { return "fake" }

// Streams implements provider.Adapter.
func (f *Fake) Streams() bool { return true }

// Invoke implements provider.Adapter.
func (f *Fake) Invoke(ctx context.Context, modelID string, messages []model.Message) (*provider.Reply, error) {
	return f.InvokeStream(ctx, modelID, messages, nil)
}

// InvokeStream implements provider.Adapter.
func (f *Fake) InvokeStream(ctx context.Context, modelID string, messages []model.Message, onChunk provider.StreamCallback) (*provider.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, modelID)
	script, ok := f.scripts[modelID]
	f.mu.Unlock()

	if !ok {
		return nil, &provider.Error{
			Kind:    model.FailureModelUnknown,
			ModelID: modelID,
			Message: "model not scripted",
		}
	}

	start := time.Now()
	if script.Latency > 0 {
		select {
		case <-time.After(script.Latency):
		case <-ctx.Done():
			return nil, &provider.Error{
				Kind:    model.FailureTimeout,
				ModelID: modelID,
				Message: "request timed out",
				Cause:   ctx.Err(),
			}
		}
	}

	if script.Fail != nil {
		return nil, &provider.Error{
			Kind:    *script.Fail,
			ModelID: modelID,
			Message: script.Fail.String(),
		}
	}

	if onChunk != nil && script.Content != "" {
		onChunk(script.Content)
	}
	return &provider.Reply{
		Content:      script.Content,
		ModelID:      modelID,
		InputTokens:  script.InputTokens,
		OutputTokens: script.OutputTokens,
		Elapsed:      time.Since(start),
	}, nil
}
