// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// ADAPTER INTERFACE
// =============================================================================

// Reply is the normalized result of one backend call. Token counts are
// zero when the backend did not report usage; callers estimate in that
// case rather than trusting a guess from here.
type Reply struct {
	Content      string
	ModelID      string
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// StreamCallback receives incremental content while a reply is being
// generated. It is called synchronously in chunk order.
type StreamCallback func(delta string)

// Adapter is one backend capable of answering a chat request. Every
// error returned is a *provider.Error carrying a failure kind.
type Adapter interface {
	// Name identifies the backend for logs and status display.
	Name() string

	// Invoke sends the messages and blocks until the full reply is
	// available or ctx expires.
	Invoke(ctx context.Context, modelID string, messages []model.Message) (*Reply, error)

	// Streams reports whether InvokeStream delivers incremental chunks.
	// Adapters without native streaming fall back to a single callback
	// with the whole reply.
	Streams() bool

	// InvokeStream is Invoke with incremental delivery. The returned
	// Reply holds the fully aggregated content; onChunk may be nil.
	InvokeStream(ctx context.Context, modelID string, messages []model.Message, onChunk StreamCallback) (*Reply, error)
}

// wireMessage is the role/content pair all three backends accept.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toWire converts conversation messages to the common wire shape.
func toWire(messages []model.Message) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		out[i] = wireMessage{Role: m.Role.String(), Content: m.Content}
	}
	return out
}
