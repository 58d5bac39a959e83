// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is an ordered list of messages plus a title.
type Conversation struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Model       string     `json:"model,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUpdated time.Time  `json:"last_updated"`
	Messages    []*Message `json:"messages"`
}

// NewConversation creates an empty conversation with a fresh ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:          uuid.New().String(),
		CreatedAt:   now,
		LastUpdated: now,
		Messages:    make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends messages to the conversation.
func (c *Conversation) AddMessage(msgs ...*Message) {
	c.Messages = append(c.Messages, msgs...)
}

// OpenMessage returns the assistant message that is still streaming, if any.
func (c *Conversation) OpenMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role == RoleAssistant && !m.Complete {
			return m
		}
	}
	return nil
}

// History returns the completed messages worth sending back to the model:
// non-empty and not marked as failed.
func (c *Conversation) History() []*Message {
	out := make([]*Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if !m.Complete || m.Error || m.IsEmpty() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FirstUserMessage returns the first user message, or nil.
func (c *Conversation) FirstUserMessage() *Message {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return m
		}
	}
	return nil
}

// UserTurns counts user messages.
func (c *Conversation) UserTurns() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// MessageCount returns the number of messages in the conversation.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if the conversation has no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// Touch sets LastUpdated.
func (c *Conversation) Touch(now time.Time) {
	c.LastUpdated = now
}

// =============================================================================
// TITLE
// =============================================================================

// GetTitle returns the conversation title or a default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// Preview returns a short preview from the first user message.
func (c *Conversation) Preview(maxLen int) string {
	if first := c.FirstUserMessage(); first != nil {
		return first.Preview(maxLen)
	}
	return ""
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]*Message, len(c.Messages))
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return &clone
}
