// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package window implements the context window policy: how much of a
// conversation's message history accompanies each outgoing prompt.
package window

import "github.com/jeranaias/parley/internal/model"

// Clip returns the trailing portion of history that fits a window of w
// turns. A turn contributes a user/assistant message pair, so w turns is
// at most 2*w messages. w == 0 disables clipping and returns the full
// history.
//
// The result never starts on an assistant message: if the cut lands
// mid-pair the leading assistant message is dropped, keeping every
// included exchange complete. Clip never mutates its input; the returned
// slice aliases history.
func Clip(history []model.Message, w int) []model.Message {
	if w <= 0 {
		return history
	}
	max := 2 * w
	if len(history) <= max {
		return history
	}
	out := history[len(history)-max:]
	if out[0].Role == model.RoleAssistant {
		out = out[1:]
	}
	return out
}
