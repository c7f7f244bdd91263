// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// Export converts a snapshot to Markdown.
func (e *MarkdownExporter) Export(snap model.Snapshot) ([]byte, error) {
	if snap.ID == "" {
		return nil, fmt.Errorf("snapshot has no id")
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(title(snap))))
		sb.WriteString(fmt.Sprintf("conversation: %s\n", snap.ID))
		sb.WriteString(fmt.Sprintf("date: %s\n", snap.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("state: %s\n", snap.State))
		sb.WriteString(fmt.Sprintf("turns: %d\n", len(snap.Turns)))
		if len(snap.ModelsUsed) > 0 {
			sb.WriteString(fmt.Sprintf("models: %s\n", escapeYAML(strings.Join(snap.ModelsUsed, ", "))))
		}
		if snap.TotalCostCents > 0 {
			sb.WriteString(fmt.Sprintf("cost_cents: %.4f\n", snap.TotalCostCents))
		}
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: parley\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(title(snap))))

	if e.options.IncludeMetadata {
		sb.WriteString("## Conversation Information\n\n")
		sb.WriteString(fmt.Sprintf("- **ID**: %s\n", snap.ID))
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(snap.CreatedAt)))
		if snap.EndedAt != nil {
			sb.WriteString(fmt.Sprintf("- **Ended**: %s\n", formatTimestamp(*snap.EndedAt)))
		}
		sb.WriteString(fmt.Sprintf("- **Turns**: %d\n", len(snap.Turns)))
		if len(snap.ModelsUsed) > 0 {
			sb.WriteString(fmt.Sprintf("- **Models**: %s\n", strings.Join(snap.ModelsUsed, ", ")))
		}
		sb.WriteString(fmt.Sprintf("- **Tokens**: %d in / %d out\n", snap.TotalInputTokens, snap.TotalOutputTokens))
		sb.WriteString(fmt.Sprintf("- **Cost**: %s\n", formatCents(snap.TotalCostCents)))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Turns\n\n")

	first := true
	for _, turn := range snap.Turns {
		if turn.Failed() && !e.options.IncludeFailures {
			continue
		}
		if !first {
			sb.WriteString("---\n\n")
		}
		first = false
		e.writeTurn(&sb, turn)
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from parley on %s*\n",
		time.Now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

func (e *MarkdownExporter) writeTurn(sb *strings.Builder, turn model.TurnRecord) {
	header := fmt.Sprintf("### Turn %d — %s", turn.TurnNumber, turn.ModelID)
	if e.options.IncludeTimestamps {
		header += fmt.Sprintf(" <sub>%s</sub>", turn.Timestamp.Format("15:04:05"))
	}
	sb.WriteString(header + "\n\n")

	sb.WriteString("**Prompt**:\n\n")
	sb.WriteString(strings.TrimSpace(turn.Prompt))
	sb.WriteString("\n\n")

	if turn.Failed() {
		sb.WriteString(fmt.Sprintf("**Failed** (%s): %s\n\n", turn.FailureKind, turn.FailureMessage))
		return
	}

	sb.WriteString("**Response**:\n\n")
	sb.WriteString(strings.TrimSpace(turn.Response))
	sb.WriteString("\n\n")

	if turn.Summary != "" {
		sb.WriteString(fmt.Sprintf("> %s\n\n", turn.Summary))
	}

	if e.options.IncludeMetadata {
		var parts []string
		if turn.TotalTokens() > 0 {
			parts = append(parts, fmt.Sprintf("Tokens: %d/%d", turn.InputTokens, turn.OutputTokens))
		}
		if turn.Elapsed > 0 {
			parts = append(parts, fmt.Sprintf("Elapsed: %s", turn.Elapsed.Round(time.Millisecond)))
		}
		if turn.CostCents > 0 {
			parts = append(parts, fmt.Sprintf("Cost: %s", formatCents(turn.CostCents)))
		}
		if len(parts) > 0 {
			sb.WriteString(fmt.Sprintf("<sub>%s</sub>\n\n", strings.Join(parts, " | ")))
		}
	}
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML escapes special YAML characters in values.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
