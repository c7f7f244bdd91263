// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// ANTHROPIC ADAPTER
// =============================================================================

const (
	// DefaultAnthropicURL is the Anthropic API base URL.
	DefaultAnthropicURL = "https://api.anthropic.com"

	anthropicVersion = "2023-06-01"

	// defaultMaxTokens caps response length; the API requires a value.
	defaultMaxTokens = 4096

	// MaxResponseSize limits response bodies read into memory.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024
)

// sharedHTTPClient is used by both metered adapters.
// PERFORMANCE: Shared client with connection pooling.
var sharedHTTPClient = &http.Client{
	Timeout: 120 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// AnthropicAdapter talks to the Anthropic Messages API. Calls are
// throttled through a client-side rate limiter so a comparison fan-out
// cannot burst past the account's request-per-second allowance.
//
// The adapter is safe for concurrent use.
type AnthropicAdapter struct {
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// NewAnthropicAdapter creates an adapter with the given credentials.
// rps caps outbound requests per second; zero means 5.
func NewAnthropicAdapter(baseURL, apiKey string, rps float64) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = DefaultAnthropicURL
	}
	if rps <= 0 {
		rps = 5
	}
	return &AnthropicAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// Name implements Adapter.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Streams implements Adapter. The Messages API supports SSE, but this
// adapter uses the simpler non-streaming form; InvokeStream delivers
// the whole reply as one chunk.
func (a *AnthropicAdapter) Streams() bool { return false }

// Configured reports whether an API key is present.
func (a *AnthropicAdapter) Configured() bool { return a.apiKey != "" }

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []wireMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke implements Adapter.
func (a *AnthropicAdapter) Invoke(ctx context.Context, modelID string, messages []model.Message) (*Reply, error) {
	if !a.Configured() {
		return nil, &Error{Kind: model.FailureAuthRejected, ModelID: modelID, Message: "no Anthropic API key configured"}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, wrapTransport(modelID, err)
	}

	start := time.Now()

	body, err := json.Marshal(anthropicRequest{
		Model:     modelID,
		MaxTokens: defaultMaxTokens,
		Messages:  toWire(messages),
	})
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := sharedHTTPClient.Do(req)

	// SECURITY: Clear credential header after the request to keep it out
	// of any request logging.
	req.Header.Del("x-api-key")

	if err != nil {
		return nil, wrapTransport(modelID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, wrapTransport(modelID, err)
	}

	var parsed anthropicResponse
	if resp.StatusCode != http.StatusOK {
		msg := "request failed: " + resp.Status
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &Error{Kind: classifyStatus(resp.StatusCode), ModelID: modelID, Message: msg}
	}

	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to parse response", Cause: err}
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Reply{
		Content:      content,
		ModelID:      modelID,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		Elapsed:      time.Since(start),
	}, nil
}

// InvokeStream implements Adapter by delegating to Invoke and delivering
// the whole reply as a single chunk.
func (a *AnthropicAdapter) InvokeStream(ctx context.Context, modelID string, messages []model.Message, onChunk StreamCallback) (*Reply, error) {
	reply, err := a.Invoke(ctx, modelID, messages)
	if err != nil {
		return nil, err
	}
	if onChunk != nil && reply.Content != "" {
		onChunk(reply.Content)
	}
	return reply, nil
}
