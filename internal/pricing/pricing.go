// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pricing maps model ids to per-token rates and turns token
// counts into cost estimates, in cents.
//
// Rates are compiled-in defaults that a [pricing] TOML section can
// extend or override. Local models are free; a metered model the table
// does not know gets a zero cost flagged as unknown rather than a
// guess.
package pricing

import (
	"strings"
)

// ============================================================================
// RATES
// ============================================================================

// Rate holds input and output pricing per 1K tokens in cents.
type Rate struct {
	Input  float64 `toml:"input"`  // cents per 1K input tokens
	Output float64 `toml:"output"` // cents per 1K output tokens
}

// defaultRates carries compiled-in pricing for the commonly used metered
// models. Per 1K tokens in cents, 2025 API pricing.
var defaultRates = map[string]Rate{
	// Anthropic direct
	"claude-haiku-3-5":  {0.08, 0.4},  // $0.80/M in, $4/M out
	"claude-sonnet-4":   {0.3, 1.5},   // $3/M in, $15/M out
	"claude-sonnet-4-5": {0.3, 1.5},   // $3/M in, $15/M out
	"claude-opus-4-1":   {1.5, 7.5},   // $15/M in, $75/M out

	// OpenRouter
	"openai/gpt-4o":            {0.25, 1.0},
	"openai/gpt-4o-mini":       {0.015, 0.06},
	"google/gemini-2.5-flash":  {0.03, 0.25},
	"google/gemini-2.5-pro":    {0.125, 1.0},
	"meta-llama/llama-3.3-70b": {0.012, 0.03},
	"deepseek/deepseek-chat":   {0.027, 0.11},
}

// Table resolves model ids to rates. The zero value is unusable; build
// one with NewTable.
type Table struct {
	rates map[string]Rate
}

// NewTable returns a table holding the compiled-in default rates.
func NewTable() *Table {
	rates := make(map[string]Rate, len(defaultRates))
	for id, r := range defaultRates {
		rates[id] = r
	}
	return &Table{rates: rates}
}

// Merge overlays rates from configuration onto the table. Config entries
// win over compiled-in defaults for the same model id.
func (t *Table) Merge(overrides map[string]Rate) {
	for id, r := range overrides {
		t.rates[id] = r
	}
}

// Lookup returns the rate for a model id and whether it is known.
// Local models (no metered-backend shape to the id) are known and free.
func (t *Table) Lookup(modelID string) (Rate, bool) {
	if r, ok := t.rates[modelID]; ok {
		return r, true
	}
	if !Metered(modelID) {
		return Rate{}, true
	}
	return Rate{}, false
}

// Estimate returns the cost in cents for a call's token counts. known is
// false when the model is metered but absent from the table; the cost is
// then zero so totals stay conservative instead of invented.
func (t *Table) Estimate(modelID string, inputTokens, outputTokens int) (costCents float64, known bool) {
	rate, ok := t.Lookup(modelID)
	if !ok {
		return 0, false
	}
	inputCost := (float64(inputTokens) * rate.Input) / 1000
	outputCost := (float64(outputTokens) * rate.Output) / 1000
	return inputCost + outputCost, true
}

// Metered reports whether a model id belongs to a paid backend: Anthropic
// ids carry the claude- prefix, OpenRouter ids a vendor/model slash.
func Metered(modelID string) bool {
	return strings.HasPrefix(modelID, "claude-") || strings.Contains(modelID, "/")
}

// ============================================================================
// TOKEN ESTIMATION
// ============================================================================

// EstimateTokens approximates the token count of text when a backend
// does not report usage. GPT-style: ~4 chars per token on average;
// blends word and character counts for better accuracy on code-heavy
// text.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	return (words + chars/4) / 2
}
