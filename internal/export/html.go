// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations as a standalone HTML document with
// syntax-highlighted code blocks. Everything is inlined; the file needs
// no external assets.
type HTMLExporter struct {
	options   *Options
	formatter *chromahtml.Formatter
	style     *chroma.Style
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	return &HTMLExporter{
		options:   opts,
		formatter: chromahtml.New(chromahtml.WithLineNumbers(false), chromahtml.InlineCode(false)),
		style:     style,
	}
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// Export converts a snapshot to a standalone HTML document.
func (e *HTMLExporter) Export(snap model.Snapshot) ([]byte, error) {
	if snap.ID == "" {
		return nil, fmt.Errorf("snapshot has no id")
	}

	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"utf-8\">\n")
	sb.WriteString(fmt.Sprintf("<title>%s</title>\n", html.EscapeString(title(snap))))
	sb.WriteString("<style>\n")
	sb.WriteString(documentCSS)
	sb.WriteString("</style>\n</head>\n<body>\n")

	sb.WriteString(fmt.Sprintf("<h1>%s</h1>\n", html.EscapeString(title(snap))))

	if e.options.IncludeMetadata {
		sb.WriteString("<table class=\"meta\">\n")
		writeMetaRow(&sb, "ID", snap.ID)
		writeMetaRow(&sb, "Created", formatTimestamp(snap.CreatedAt))
		if snap.EndedAt != nil {
			writeMetaRow(&sb, "Ended", formatTimestamp(*snap.EndedAt))
		}
		writeMetaRow(&sb, "State", snap.State)
		writeMetaRow(&sb, "Turns", fmt.Sprintf("%d", len(snap.Turns)))
		if len(snap.ModelsUsed) > 0 {
			writeMetaRow(&sb, "Models", strings.Join(snap.ModelsUsed, ", "))
		}
		writeMetaRow(&sb, "Tokens", fmt.Sprintf("%d in / %d out", snap.TotalInputTokens, snap.TotalOutputTokens))
		writeMetaRow(&sb, "Cost", formatCents(snap.TotalCostCents))
		sb.WriteString("</table>\n")
	}

	for _, turn := range snap.Turns {
		if turn.Failed() && !e.options.IncludeFailures {
			continue
		}
		if err := e.writeTurn(&sb, turn); err != nil {
			return nil, err
		}
	}

	sb.WriteString(fmt.Sprintf("<footer>Exported from parley on %s</footer>\n",
		html.EscapeString(time.Now().Format("January 2, 2006 at 3:04 PM"))))
	sb.WriteString("</body>\n</html>\n")

	return []byte(sb.String()), nil
}

func (e *HTMLExporter) writeTurn(sb *strings.Builder, turn model.TurnRecord) error {
	sb.WriteString("<section class=\"turn\">\n")

	header := fmt.Sprintf("Turn %d &mdash; %s", turn.TurnNumber, html.EscapeString(turn.ModelID))
	if e.options.IncludeTimestamps {
		header += fmt.Sprintf(" <span class=\"ts\">%s</span>", turn.Timestamp.Format("15:04:05"))
	}
	sb.WriteString(fmt.Sprintf("<h2>%s</h2>\n", header))

	sb.WriteString("<div class=\"prompt\">\n")
	if err := e.writeContent(sb, turn.Prompt); err != nil {
		return err
	}
	sb.WriteString("</div>\n")

	if turn.Failed() {
		sb.WriteString(fmt.Sprintf("<div class=\"failure\">Failed (%s): %s</div>\n",
			html.EscapeString(turn.FailureKind.String()), html.EscapeString(turn.FailureMessage)))
		sb.WriteString("</section>\n")
		return nil
	}

	sb.WriteString("<div class=\"response\">\n")
	if err := e.writeContent(sb, turn.Response); err != nil {
		return err
	}
	sb.WriteString("</div>\n")

	if turn.Summary != "" {
		sb.WriteString(fmt.Sprintf("<blockquote>%s</blockquote>\n", html.EscapeString(turn.Summary)))
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
			sb.WriteString(fmt.Sprintf("<div class=\"stats\">%s</div>\n",
				html.EscapeString(strings.Join(parts, " | "))))
		}
	}

	sb.WriteString("</section>\n")
	return nil
}

// writeContent renders text that may contain fenced code blocks. Prose
// segments are escaped; code segments are syntax highlighted.
func (e *HTMLExporter) writeContent(sb *strings.Builder, content string) error {
	segments := splitFenced(content)
	for _, seg := range segments {
		if !seg.code {
			text := strings.TrimSpace(seg.text)
			if text == "" {
				continue
			}
			sb.WriteString("<p>")
			sb.WriteString(strings.ReplaceAll(html.EscapeString(text), "\n", "<br>\n"))
			sb.WriteString("</p>\n")
			continue
		}
		if err := e.writeCode(sb, seg.text, seg.language); err != nil {
			return err
		}
	}
	return nil
}

// writeCode highlights one code block.
func (e *HTMLExporter) writeCode(sb *strings.Builder, code, language string) error {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return fmt.Errorf("tokenize code block: %w", err)
	}
	if err := e.formatter.Format(sb, e.style, iterator); err != nil {
		return fmt.Errorf("format code block: %w", err)
	}
	return nil
}

// =============================================================================
// FENCE SPLITTING
// =============================================================================

type segment struct {
	text     string
	code     bool
	language string
}

// splitFenced splits content on ``` fences. An unclosed fence runs to
// the end of the content.
func splitFenced(content string) []segment {
	var segs []segment
	lines := strings.Split(content, "\n")

	var buf []string
	inCode := false
	language := ""

	flush := func() {
		if len(buf) == 0 {
			return
		}
		segs = append(segs, segment{
			text:     strings.Join(buf, "\n"),
			code:     inCode,
			language: language,
		})
		buf = buf[:0]
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			flush()
			if inCode {
				inCode = false
				language = ""
			} else {
				inCode = true
				language = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			}
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return segs
}

func writeMetaRow(sb *strings.Builder, key, value string) {
	sb.WriteString(fmt.Sprintf("<tr><th>%s</th><td>%s</td></tr>\n",
		html.EscapeString(key), html.EscapeString(value)))
}

const documentCSS = `body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
h1 { border-bottom: 2px solid #ddd; padding-bottom: 0.5rem; }
table.meta { border-collapse: collapse; margin: 1rem 0; }
table.meta th { text-align: left; padding-right: 1rem; color: #555; }
section.turn { border-top: 1px solid #ddd; margin-top: 1.5rem; padding-top: 0.5rem; }
.ts { color: #999; font-size: 0.8em; font-weight: normal; }
.prompt { background: #f4f6f8; border-left: 3px solid #6a9fb5; padding: 0.5rem 1rem; margin: 0.5rem 0; }
.response { margin: 0.5rem 0; }
.failure { background: #fdf0f0; border-left: 3px solid #c0392b; padding: 0.5rem 1rem; margin: 0.5rem 0; }
.stats { color: #777; font-size: 0.8em; }
blockquote { color: #555; border-left: 3px solid #ccc; margin: 0.5rem 0; padding-left: 1rem; font-style: italic; }
pre { padding: 0.75rem; border-radius: 4px; overflow-x: auto; }
footer { margin-top: 2rem; color: #999; font-size: 0.8em; font-style: italic; }
`
