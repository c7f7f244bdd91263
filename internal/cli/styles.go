// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for the parley REPL.
//
// Colors are disabled automatically for non-TTY output and when
// NO_COLOR is set; see terminal.go.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func init() {
	lipgloss.SetColorProfile(ColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// promptStyle colors the REPL prompt.
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// welcomeStyle is used for the startup banner.
	welcomeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("141")) // Purple

	// headerStyle is used for section headers in command output.
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// infoStyle is used for labels and secondary information.
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	// valueStyle is used for values and model names.
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")) // Bright green

	// successStyle marks successful operations.
	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42")) // Green

	// errorStyle marks errors and failed calls.
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")) // Red

	// warningStyle marks warnings.
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Yellow/Orange

	// dimStyle de-emphasizes stats lines and hints.
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")) // Dim gray
)

// separator renders a horizontal rule sized to the terminal.
func separator() string {
	w := TerminalWidth()
	if w > 60 {
		w = 60
	}
	return dimStyle.Render(strings.Repeat("─", w))
}

// outcomeStyle returns the style for a turn outcome label.
func outcomeStyle(outcome string) lipgloss.Style {
	if outcome == "ok" {
		return successStyle
	}
	return errorStyle
}
