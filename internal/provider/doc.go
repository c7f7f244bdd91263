// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider contains the backend adapters: Ollama for local
// inference, Anthropic and OpenRouter for metered APIs. Each adapter
// normalizes its backend's wire protocol into a Reply and classifies
// failures into model.FailureKind, so callers never see raw transport
// errors.
//
// Adapters are stateless with respect to conversations: they receive a
// fully prepared message slice and return one reply. The Registry picks
// the adapter for a model id by its shape alone; no network round trip
// is needed to route.
package provider
