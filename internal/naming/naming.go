// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package naming builds filesystem-safe names for exported
// conversations and turns.
package naming

import (
	"fmt"
	"strings"
	"unicode"
)

// maxSlugRunes caps slug length so directory names stay readable.
const maxSlugRunes = 40

// Slugify lowers text to a filesystem-safe slug: letters and digits
// kept, runs of anything else collapsed to a single underscore, length
// capped. Empty input slugs to "untitled".
func Slugify(text string) string {
	var sb strings.Builder
	lastUnderscore := true // suppress a leading underscore
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore:
			sb.WriteRune('_')
			lastUnderscore = true
		}
		if sb.Len() >= maxSlugRunes {
			break
		}
	}
	slug := strings.Trim(sb.String(), "_")
	if slug == "" {
		return "untitled"
	}
	return slug
}

// TurnDirName names a turn's export directory: turn number zero-padded
// to three digits, then a slug of the prompt.
func TurnDirName(turnNumber int, prompt string) string {
	return fmt.Sprintf("turn_%03d_%s", turnNumber, Slugify(prompt))
}

// ConversationDirName names a conversation's export directory. The id
// is already filesystem-safe; it is used as-is.
func ConversationDirName(conversationID string) string {
	return conversationID
}

// ModelLabel makes a model id safe for use inside a file name: slashes,
// colons, and dots become underscores.
func ModelLabel(modelID string) string {
	r := strings.NewReplacer("/", "_", ":", "_", ".", "_")
	return r.Replace(modelID)
}
