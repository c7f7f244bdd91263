// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"strings"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// summaryPromptLimit caps how much of the exchange is fed back for
// summarization; a summary of a novel does not need the whole novel.
const summaryPromptLimit = 2000

// summarize asks the same model that produced a response for a one-line
// summary of the exchange. Best effort under a short deadline: any
// failure yields an empty summary and the turn stands as-is.
//
// The sub-call deliberately carries no conversation history, so it
// cannot disturb the context window and costs a predictable amount.
func (e *Engine) summarize(ctx context.Context, modelID, prompt, response string) string {
	adapter, err := e.resolver.AdapterFor(modelID)
	if err != nil {
		return ""
	}

	subCtx, cancel := context.WithTimeout(ctx, e.summaryTimeout)
	defer cancel()

	ask := "Summarize the following exchange in one short sentence. Reply with the sentence only.\n\n" +
		"Question: " + util.TruncateRunesNoEllipsis(prompt, summaryPromptLimit) + "\n\n" +
		"Answer: " + util.TruncateRunesNoEllipsis(response, summaryPromptLimit)

	reply, err := adapter.Invoke(subCtx, modelID, []model.Message{model.NewUserMessage(ask, 0)})
	if err != nil {
		return ""
	}

	summary := strings.TrimSpace(reply.Content)
	// A model that rambles gets clipped rather than trusted.
	return util.TruncateRunes(strings.ReplaceAll(summary, "\n", " "), 200)
}
