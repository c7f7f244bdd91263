// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the parley interactive REPL.
//
// The REPL wraps the orchestration engine with a liner-backed prompt:
// line editing, persistent input history, and slash commands for model
// selection, comparison sends, export, and conversation management.
// Responses are rendered as markdown when stdout is a terminal and
// streamed as plain text otherwise.
package cli
