// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the core data structures for conversations:
// the conversation state machine, turn records, comparison batches, and
// chat messages.
//
// A Conversation is owned exclusively by the orchestration engine. All
// mutation goes through AddBatch and End, which serialize access behind
// an internal mutex; provider adapters and the dispatch coordinator
// never touch conversation state directly.
package model
