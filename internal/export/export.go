// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders conversation snapshots to shareable formats:
// Markdown, JSON, and standalone HTML with syntax-highlighted code
// blocks.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/naming"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// EXPORTER INTERFACE
// =============================================================================

// Exporter converts a snapshot to one output format.
type Exporter interface {
	// Export renders the snapshot.
	Export(snap model.Snapshot) ([]byte, error)
	// FileExtension returns the output extension, dot included.
	FileExtension() string
}

// Options controls what the exporters include.
type Options struct {
	// IncludeMetadata adds frontmatter / header sections.
	IncludeMetadata bool
	// IncludeTimestamps adds per-turn timestamps.
	IncludeTimestamps bool
	// IncludeFailures includes failed turns; when false only
	// successful turns are rendered.
	IncludeFailures bool
}

// DefaultOptions returns the standard export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		IncludeFailures:   true,
	}
}

// ForFormat returns the exporter for a format name: "markdown" (or
// "md"), "json", "html".
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch format {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(), nil
	case "html":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format: %q", format)
	}
}

// WriteFile exports a snapshot into dir, named after the conversation,
// and returns the written path.
func WriteFile(e Exporter, snap model.Snapshot, dir string) (string, error) {
	data, err := e.Export(snap)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, naming.ConversationDirName(snap.ID)+e.FileExtension())
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// title derives a display title from the first prompt.
func title(snap model.Snapshot) string {
	if len(snap.Turns) == 0 {
		return "Empty conversation"
	}
	return util.TruncateRunes(snap.Turns[0].Prompt, 60)
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatCents(cents float64) string {
	return fmt.Sprintf("%.4f cents", cents)
}
