// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package naming

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"What is the capital of France?", "what_is_the_capital_of_france"},
		{"hello   world", "hello_world"},
		{"Ünïcode Prömpt", "ünïcode_prömpt"},
		{"!!!", "untitled"},
		{"", "untitled"},
		{"trailing punctuation...", "trailing_punctuation"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	long := Slugify("a very long prompt that keeps going and going and going and going far past any limit")
	if len([]rune(long)) > maxSlugRunes {
		t.Errorf("slug length = %d, want <= %d", len([]rune(long)), maxSlugRunes)
	}
}

func TestTurnDirName(t *testing.T) {
	got := TurnDirName(7, "Explain goroutines")
	if got != "turn_007_explain_goroutines" {
		t.Errorf("TurnDirName = %q", got)
	}
	got = TurnDirName(123, "x")
	if got != "turn_123_x" {
		t.Errorf("TurnDirName = %q", got)
	}
}

func TestModelLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"openai/gpt-4o", "openai_gpt-4o"},
		{"llama3.1:8b", "llama3_1_8b"},
		{"claude-sonnet-4", "claude-sonnet-4"},
	}
	for _, tt := range tests {
		if got := ModelLabel(tt.in); got != tt.want {
			t.Errorf("ModelLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
