// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Response rendering for the parley REPL.
//
// USABILITY: Markdown rendering on TTY, plain streaming otherwise.

package cli

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderer lazily builds the glamour renderer. A nil result means
// rendering is unavailable and callers fall back to plain text.
func renderer() *glamour.TermRenderer {
	markdownRendererOnce.Do(func() {
		width := TerminalWidth()
		if width > 100 {
			width = 100
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return
		}
		markdownRenderer = r
	})
	return markdownRenderer
}

// renderResponse prints a complete response, markdown-formatted when
// stdout is a terminal.
func renderResponse(content string) {
	if !IsStdoutTTY() {
		fmt.Println(content)
		return
	}
	r := renderer()
	if r == nil {
		fmt.Println(content)
		return
	}
	out, err := r.Render(content)
	if err != nil {
		fmt.Println(content)
		return
	}
	fmt.Print(strings.TrimRight(out, "\n") + "\n")
}
