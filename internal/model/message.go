// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
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
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// ErrorDetails describes why a turn failed.
type ErrorDetails struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Message represents a single message in a conversation. It is plain data so
// that storage can persist it verbatim.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`

	// Complete is false while the assistant reply is streaming. It flips to
	// true once, when the turn ends.
	Complete bool `json:"complete"`

	// Mode records which path produced an assistant reply: "single",
	// "staged" or "adaptive".
	Mode string `json:"mode,omitempty"`

	// Reasoning timing
	ReasoningStartTime *time.Time    `json:"reasoning_start_time,omitempty"`
	ReasoningEndTime   *time.Time    `json:"reasoning_end_time,omitempty"`
	ReasoningDuration  time.Duration `json:"reasoning_duration_ns,omitempty"`

	// Failure
	Error        bool          `json:"error,omitempty"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`
}

// NewMessage creates a new, complete message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Complete:  true,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an empty, open assistant message.
func NewAssistantMessage() *Message {
	return &Message{
		ID:        generateID(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendContent appends a content delta. The first content delta after
// reasoning has started closes the reasoning window.
func (m *Message) AppendContent(text string, now time.Time) {
	if text == "" {
		return
	}
	if m.ReasoningStartTime != nil && m.ReasoningEndTime == nil {
		m.MarkReasoningEnd(now)
	}
	m.Content += text
}

// AppendReasoning appends a reasoning delta, opening the reasoning window on
// the first one.
func (m *Message) AppendReasoning(text string, now time.Time) {
	if text == "" {
		return
	}
	m.MarkReasoningStart(now)
	m.Reasoning += text
}

// MarkReasoningStart records the start of the reasoning phase once.
func (m *Message) MarkReasoningStart(now time.Time) {
	if m.ReasoningStartTime == nil {
		t := now
		m.ReasoningStartTime = &t
	}
}

// MarkReasoningEnd records the end of the reasoning phase once. It is a
// no-op if reasoning never started.
func (m *Message) MarkReasoningEnd(now time.Time) {
	if m.ReasoningStartTime == nil || m.ReasoningEndTime != nil {
		return
	}
	t := now
	m.ReasoningEndTime = &t
}

// AppendNotice appends an inline annotation such as an error or abort marker.
// It never touches the reasoning window.
func (m *Message) AppendNotice(text string) {
	m.Content += text
}

// Fail records error details for the turn.
func (m *Message) Fail(kind, message string) {
	m.Error = true
	m.ErrorDetails = &ErrorDetails{Kind: kind, Message: message}
}

// Finish marks the message complete and computes the reasoning duration.
// It returns false if the message was already complete.
func (m *Message) Finish(now time.Time) bool {
	if m.Complete {
		return false
	}
	if m.ReasoningStartTime != nil {
		m.MarkReasoningEnd(now)
		d := m.ReasoningEndTime.Sub(*m.ReasoningStartTime)
		if d < 0 {
			d = 0
		}
		m.ReasoningDuration = d
	}
	m.Complete = true
	return true
}

// HasReasoning reports whether a reasoning phase was recorded.
func (m *Message) HasReasoning() bool {
	return m.ReasoningStartTime != nil
}

// Preview returns a truncated, single-line preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := strings.Join(strings.Fields(m.Content), " ")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}

// Clone returns a copy that shares no pointers with m.
func (m *Message) Clone() *Message {
	c := *m
	if m.ReasoningStartTime != nil {
		t := *m.ReasoningStartTime
		c.ReasoningStartTime = &t
	}
	if m.ReasoningEndTime != nil {
		t := *m.ReasoningEndTime
		c.ReasoningEndTime = &t
	}
	if m.ErrorDetails != nil {
		d := *m.ErrorDetails
		c.ErrorDetails = &d
	}
	return &c
}

// generateID creates a unique message ID.
func generateID() string {
	return uuid.New().String()
}
