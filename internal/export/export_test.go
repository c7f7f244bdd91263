// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

func sampleSnapshot() model.Snapshot {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return model.Snapshot{
		ID:        "conv_20260314_092653_ab12cd34",
		CreatedAt: created,
		State:     "active",
		Turns: []model.TurnRecord{
			{
				TurnNumber:   1,
				BatchID:      "batch_0011223344556677",
				Prompt:       "Explain goroutine scheduling",
				ModelID:      "llama3.1:8b",
				Timestamp:    created.Add(time.Minute),
				Response:     "Goroutines are multiplexed onto OS threads.\n\n```go\ngo func() {\n\tfmt.Println(\"hi\")\n}()\n```\n\nThe runtime schedules them cooperatively.",
				Summary:      "Explains goroutine scheduling basics.",
				Elapsed:      820 * time.Millisecond,
				InputTokens:  42,
				OutputTokens: 120,
				PricingKnown: true,
			},
			{
				TurnNumber:     2,
				BatchID:        "batch_8899aabbccddeeff",
				Prompt:         "Now compare with threads",
				ModelID:        "claude-sonnet-4",
				Timestamp:      created.Add(2 * time.Minute),
				FailureKind:    model.FailureRateLimited,
				FailureMessage: "rate limit exceeded",
			},
		},
		ModelsUsed:        []string{"claude-sonnet-4", "llama3.1:8b"},
		TotalInputTokens:  42,
		TotalOutputTokens: 120,
	}
}

func TestForFormat(t *testing.T) {
	cases := []struct {
		format string
		ext    string
	}{
		{"markdown", ".md"},
		{"md", ".md"},
		{"json", ".json"},
		{"html", ".html"},
	}
	for _, tc := range cases {
		e, err := ForFormat(tc.format, nil)
		if err != nil {
			t.Fatalf("ForFormat(%q) error: %v", tc.format, err)
		}
		if e.FileExtension() != tc.ext {
			t.Errorf("ForFormat(%q).FileExtension() = %q, want %q", tc.format, e.FileExtension(), tc.ext)
		}
	}

	if _, err := ForFormat("docx", nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestMarkdownExport(t *testing.T) {
	data, err := NewMarkdownExporter(nil).Export(sampleSnapshot())
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		"---\n",
		"conversation: conv_20260314_092653_ab12cd34",
		"### Turn 1 — llama3.1:8b",
		"Explain goroutine scheduling",
		"Goroutines are multiplexed",
		"### Turn 2 — claude-sonnet-4",
		"**Failed** (rate_limited): rate limit exceeded",
		"> Explains goroutine scheduling basics.",
		"Tokens: 42/120",
		"*Exported from parley on",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown output missing %q", want)
		}
	}
}

func TestMarkdownExcludesFailures(t *testing.T) {
	opts := &Options{IncludeMetadata: true, IncludeFailures: false}
	data, err := NewMarkdownExporter(opts).Export(sampleSnapshot())
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	out := string(data)

	if strings.Contains(out, "Turn 2") {
		t.Error("failed turn should be excluded")
	}
	if !strings.Contains(out, "Turn 1") {
		t.Error("successful turn should survive the filter")
	}
}

func TestMarkdownEmptySnapshotID(t *testing.T) {
	if _, err := NewMarkdownExporter(nil).Export(model.Snapshot{}); err == nil {
		t.Error("expected error for snapshot without id")
	}
}

func TestJSONExportRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	data, err := NewJSONExporter().Export(snap)
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	var decoded model.Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.ID != snap.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, snap.ID)
	}
	if len(decoded.Turns) != 2 {
		t.Errorf("Turns = %d, want 2", len(decoded.Turns))
	}
	if decoded.Turns[1].FailureKind != model.FailureRateLimited {
		t.Errorf("FailureKind = %v, want rate_limited", decoded.Turns[1].FailureKind)
	}
}

func TestHTMLExport(t *testing.T) {
	data, err := NewHTMLExporter(nil).Export(sampleSnapshot())
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		"<!DOCTYPE html>",
		"Turn 1 &mdash; llama3.1:8b",
		"class=\"failure\"",
		"rate limit exceeded",
		"<pre",
		"</html>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("html output missing %q", want)
		}
	}

	// Code fences must not leak into the document as literal backticks.
	if strings.Contains(out, "```") {
		t.Error("html output contains raw fence markers")
	}
}

func TestHTMLEscapesPrompt(t *testing.T) {
	snap := sampleSnapshot()
	snap.Turns = snap.Turns[:1]
	snap.Turns[0].Prompt = "What does <script>alert(1)</script> do?"

	data, err := NewHTMLExporter(nil).Export(snap)
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	if strings.Contains(string(data), "<script>alert(1)</script>") {
		t.Error("prompt content was not escaped")
	}
}

func TestSplitFenced(t *testing.T) {
	segs := splitFenced("before\n```go\ncode here\n```\nafter")
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	if segs[0].code || segs[2].code {
		t.Error("prose segments flagged as code")
	}
	if !segs[1].code || segs[1].language != "go" {
		t.Errorf("code segment = %+v, want go code", segs[1])
	}
	if segs[1].text != "code here" {
		t.Errorf("code text = %q", segs[1].text)
	}
}

func TestSplitFencedUnclosed(t *testing.T) {
	segs := splitFenced("prose\n```python\nx = 1")
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2", len(segs))
	}
	if !segs[1].code || segs[1].language != "python" {
		t.Errorf("unclosed fence not treated as code: %+v", segs[1])
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	snap := sampleSnapshot()

	path, err := WriteFile(NewMarkdownExporter(nil), snap, filepath.Join(dir, "exports"))
	if err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if filepath.Base(path) != snap.ID+".md" {
		t.Errorf("path = %q, want name %q", path, snap.ID+".md")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	if !strings.Contains(string(data), snap.ID) {
		t.Error("exported file missing conversation id")
	}
}

func TestTitle(t *testing.T) {
	if got := title(model.Snapshot{ID: "conv_x"}); got != "Empty conversation" {
		t.Errorf("title = %q", got)
	}
	snap := sampleSnapshot()
	if got := title(snap); !strings.HasPrefix(got, "Explain goroutine") {
		t.Errorf("title = %q", got)
	}
}
