// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// OPENROUTER ADAPTER
// =============================================================================

const (
	// DefaultOpenRouterURL is the OpenRouter API base URL.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// openRouterMaxRetries bounds retry attempts for transient errors.
	openRouterMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond
)

// OpenRouterAdapter talks to the OpenRouter chat completions API using
// SSE streaming. Non-streaming calls retry transient failures (429 and
// 5xx) with exponential backoff; streaming calls do not retry once the
// stream has opened.
//
// The adapter is safe for concurrent use.
type OpenRouterAdapter struct {
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// NewOpenRouterAdapter creates an adapter with the given credentials.
// rps caps outbound requests per second; zero means 5.
func NewOpenRouterAdapter(baseURL, apiKey string, rps float64) *OpenRouterAdapter {
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	if rps <= 0 {
		rps = 5
	}
	return &OpenRouterAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// Name implements Adapter.
func (a *OpenRouterAdapter) Name() string { return "openrouter" }

// Streams implements Adapter.
func (a *OpenRouterAdapter) Streams() bool { return true }

// Configured reports whether an API key is present.
func (a *OpenRouterAdapter) Configured() bool { return a.apiKey != "" }

type openRouterRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type openRouterUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage openRouterUsage `json:"usage"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type openRouterStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *openRouterUsage `json:"usage"`
}

func (a *OpenRouterAdapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "parley/0.1.0")
}

// Invoke implements Adapter with retry on transient failures.
func (a *OpenRouterAdapter) Invoke(ctx context.Context, modelID string, messages []model.Message) (*Reply, error) {
	if !a.Configured() {
		return nil, &Error{Kind: model.FailureAuthRejected, ModelID: modelID, Message: "no OpenRouter API key configured"}
	}

	var lastErr error
	for attempt := 0; attempt < openRouterMaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 500ms, 1s, 2s
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, wrapTransport(modelID, ctx.Err())
			case <-time.After(delay):
			}
		}

		reply, err := a.doOnce(ctx, modelID, messages)
		if err == nil {
			return reply, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// doOnce performs a single non-streaming request.
func (a *OpenRouterAdapter) doOnce(ctx context.Context, modelID string, messages []model.Message) (*Reply, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, wrapTransport(modelID, err)
	}

	start := time.Now()

	body, err := json.Marshal(openRouterRequest{
		Model:    modelID,
		Messages: toWire(messages),
	})
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to create request", Cause: err}
	}
	a.setHeaders(req)

	resp, err := sharedHTTPClient.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return nil, wrapTransport(modelID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, wrapTransport(modelID, err)
	}

	var parsed openRouterResponse
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
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "empty choices in response"}
	}

	return &Reply{
		Content:      parsed.Choices[0].Message.Content,
		ModelID:      modelID,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		Elapsed:      time.Since(start),
	}, nil
}

// InvokeStream implements Adapter over SSE. Chunks are data: lines; the
// stream terminates with data: [DONE].
func (a *OpenRouterAdapter) InvokeStream(ctx context.Context, modelID string, messages []model.Message, onChunk StreamCallback) (*Reply, error) {
	if !a.Configured() {
		return nil, &Error{Kind: model.FailureAuthRejected, ModelID: modelID, Message: "no OpenRouter API key configured"}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, wrapTransport(modelID, err)
	}

	start := time.Now()

	body, err := json.Marshal(openRouterRequest{
		Model:    modelID,
		Messages: toWire(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: model.FailureUnknown, ModelID: modelID, Message: "failed to create request", Cause: err}
	}
	a.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout on the streaming path; ctx carries the deadline.
	streamClient := &http.Client{Transport: sharedHTTPClient.Transport}
	resp, err := streamClient.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return nil, wrapTransport(modelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := "stream request failed: " + resp.Status
		var parsed openRouterResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &Error{Kind: classifyStatus(resp.StatusCode), ModelID: modelID, Message: msg}
	}

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	var content strings.Builder
	var usage openRouterUsage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, wrapTransport(modelID, ctx.Err())
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk openRouterStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			content.WriteString(chunk.Choices[0].Delta.Content)
			if onChunk != nil {
				onChunk(chunk.Choices[0].Delta.Content)
			}
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapTransport(modelID, err)
	}

	return &Reply{
		Content:      content.String(),
		ModelID:      modelID,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		Elapsed:      time.Since(start),
	}, nil
}

// retryable reports whether a failure should trigger a retry. Rate
// limits are retryable; auth failures, unknown models, and context
// expiry are not.
func retryable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Kind {
	case model.FailureRateLimited, model.FailureUnknown:
		return true
	default:
		return false
	}
}
