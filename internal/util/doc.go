// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers: crash-safe atomic file
// writes used by the snapshot store, and rune-aware string truncation
// used for previews and display labels.
package util
