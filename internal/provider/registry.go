// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"strings"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// REGISTRY
// =============================================================================

// Registry resolves model ids to adapters by the id's shape:
//
//	claude-*            -> Anthropic
//	vendor/model        -> OpenRouter
//	anything else       -> Ollama (local)
//
// Routing is static: no network round trip, no model catalog lookup. An
// id that routes to a backend the backend does not actually serve fails
// at call time with FailureModelUnknown, which is recorded like any
// other per-model failure.
type Registry struct {
	ollama     Adapter
	anthropic  Adapter
	openrouter Adapter
}

// NewRegistry builds a registry over the three backends. Any adapter may
// be nil; ids routed to a nil backend fail with FailureModelUnknown.
func NewRegistry(ollama, anthropic, openrouter Adapter) *Registry {
	return &Registry{
		ollama:     ollama,
		anthropic:  anthropic,
		openrouter: openrouter,
	}
}

// AdapterFor returns the adapter responsible for the model id.
func (r *Registry) AdapterFor(modelID string) (Adapter, error) {
	var a Adapter
	switch {
	case strings.HasPrefix(modelID, "claude-"):
		a = r.anthropic
	case strings.Contains(modelID, "/"):
		a = r.openrouter
	default:
		a = r.ollama
	}
	if a == nil {
		return nil, &Error{
			Kind:    model.FailureModelUnknown,
			ModelID: modelID,
			Message: "no backend configured for model",
		}
	}
	return a, nil
}

// BackendName returns the routing target's name without resolving the
// adapter, for status display.
func BackendName(modelID string) string {
	switch {
	case strings.HasPrefix(modelID, "claude-"):
		return "anthropic"
	case strings.Contains(modelID, "/"):
		return "openrouter"
	default:
		return "ollama"
	}
}
