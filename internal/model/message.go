// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one entry in a conversation's chat history. Messages are
// derived from turn records on append and are what the context window
// policy slices when building a provider request.
type Message struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	TurnNumber int       `json:"turn_number"`
	ModelID    string    `json:"model_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewUserMessage creates a user message owned by the given turn.
func NewUserMessage(content string, turnNumber int) Message {
	return Message{
		ID:         generateID("msg"),
		Role:       RoleUser,
		Content:    content,
		TurnNumber: turnNumber,
		Timestamp:  time.Now(),
	}
}

// NewAssistantMessage creates an assistant message owned by the given turn,
// tagged with the model that produced it.
func NewAssistantMessage(content, modelID string, turnNumber int) Message {
	return Message{
		ID:         generateID("msg"),
		Role:       RoleAssistant,
		Content:    content,
		TurnNumber: turnNumber,
		ModelID:    modelID,
		Timestamp:  time.Now(),
	}
}

// Preview returns a truncated single-line preview of the message content.
func (m Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// generateID creates a unique prefixed ID from random bytes.
func generateID(prefix string) string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return prefix + "_" + hex.EncodeToString(bytes)
}
