// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// OLLAMA ADAPTER
// =============================================================================

// DefaultOllamaURL is the local Ollama endpoint.
// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6
// resolution issues on Windows.
const DefaultOllamaURL = "http://127.0.0.1:11434"

// OllamaAdapter talks to a local Ollama runtime over its NDJSON chat
// API. Local inference is free; token counts come from the runtime's
// eval counters when present.
//
// The adapter is safe for concurrent use.
type OllamaAdapter struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaAdapter creates an adapter for the given base URL; empty
// means the local default.
func NewOllamaAdapter(baseURL string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client timeout: generation time is unbounded and the
		// per-call deadline arrives via ctx.
		httpClient: &http.Client{},
	}
}

// Name implements Adapter.
func (a *OllamaAdapter) Name() string { return "ollama" }

// Streams implements Adapter.
func (a *OllamaAdapter) Streams() bool { return true }

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// Invoke implements Adapter.
func (a *OllamaAdapter) Invoke(ctx context.Context, modelID string, messages []model.Message) (*Reply, error) {
	return a.InvokeStream(ctx, modelID, messages, nil)
}

// InvokeStream implements Adapter. The NDJSON stream is parsed line by
// line; the final line carries the eval counters.
func (a *OllamaAdapter) InvokeStream(ctx context.Context, modelID string, messages []model.Message, onChunk StreamCallback) (*Reply, error) {
	start := time.Now()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    modelID,
		Messages: toWire(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransport(modelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.errorFromResponse(modelID, resp)
	}

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	var content strings.Builder
	var inputTokens, outputTokens int

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, wrapTransport(modelID, ctx.Err())
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines
			continue
		}
		if chunk.Error != "" {
			return nil, &Error{Kind: classifyOllamaError(chunk.Error), ModelID: modelID, Message: chunk.Error}
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(chunk.Message.Content)
			}
		}
		if chunk.Done {
			inputTokens = chunk.PromptEvalCount
			outputTokens = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapTransport(modelID, err)
	}

	return &Reply{
		Content:      content.String(),
		ModelID:      modelID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Elapsed:      time.Since(start),
	}, nil
}

// ListModels returns the names of models available in the local runtime.
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, Message: "failed to create request", Cause: err}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransport("", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: classifyStatus(resp.StatusCode), Message: "failed to list models: " + resp.Status}
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Kind: model.FailureUnknown, Message: "failed to decode response", Cause: err}
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// errorFromResponse drains an error response into a classified *Error.
func (a *OllamaAdapter) errorFromResponse(modelID string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := "chat request failed: " + resp.Status
	var ollamaErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &ollamaErr) == nil && ollamaErr.Error != "" {
		msg = ollamaErr.Error
	}
	kind := classifyStatus(resp.StatusCode)
	if kind == model.FailureUnknown {
		kind = classifyOllamaError(msg)
	}
	return &Error{Kind: kind, ModelID: modelID, Message: msg}
}

// classifyOllamaError maps Ollama's in-band error strings to kinds.
func classifyOllamaError(msg string) model.FailureKind {
	if strings.Contains(msg, "not found") {
		return model.FailureModelUnknown
	}
	return model.FailureUnknown
}
