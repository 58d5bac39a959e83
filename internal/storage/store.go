// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/thinkchat/internal/config"
	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/util"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists conversations.
type Store interface {
	// Get loads a conversation. Missing IDs return ErrConversationNotFound.
	Get(ctx context.Context, id string) (*model.Conversation, error)
	// Set writes the whole conversation, replacing any previous copy.
	Set(ctx context.Context, conv *model.Conversation) error
	// Delete removes a conversation.
	Delete(ctx context.Context, id string) error
	// Index lists metadata, most recently updated first.
	Index(ctx context.Context) ([]Meta, error)
	// Search returns conversations whose title or message text contains
	// query (case-insensitive).
	Search(ctx context.Context, query string) ([]Meta, error)
	Close() error
}

// Meta contains metadata for listing conversations.
type Meta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

const previewLen = 80

// MetaOf builds listing metadata for conv.
func MetaOf(conv *model.Conversation) Meta {
	return Meta{
		ID:           conv.ID,
		Title:        conv.GetTitle(),
		Model:        conv.Model,
		CreatedAt:    conv.CreatedAt,
		LastUpdated:  conv.LastUpdated,
		MessageCount: conv.MessageCount(),
		Preview:      conv.Preview(previewLen),
	}
}

// =============================================================================
// OPEN
// =============================================================================

// Open returns the store selected by cfg.Storage.Backend.
func Open(cfg *config.Config) (Store, error) {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolve data dir")
	}
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := OpenSQLite(filepath.Join(dir, "thinkchat.db"))
		if err != nil {
			return nil, err
		}
		s.MaxConversations = cfg.Storage.MaxConversations
		s.MaxFacts = cfg.Memory.MaxFacts
		return s, nil
	case "", "json":
		s, err := NewFileStore(filepath.Join(dir, "conversations"))
		if err != nil {
			return nil, err
		}
		s.MaxConversations = cfg.Storage.MaxConversations
		return s, nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrInvalidID is returned for IDs that cannot name a stored conversation.
var ErrInvalidID = &ConversationError{Message: "invalid conversation id"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID rejects IDs that could escape the store directory.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return errors.Wrapf(ErrInvalidID, "%q", id)
	}
	return nil
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList formats conversations as a table: ID, last update, message
// count, title.
func FormatList(metas []Meta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	const (
		idWidth    = 10
		timeWidth  = 17
		countWidth = 5
		titleWidth = 48
	)

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", idWidth) + " " +
		util.PadRight("Updated", timeWidth) + " " +
		util.PadRight("Msgs", countWidth) + " Title\n")
	sb.WriteString(strings.Repeat("-", idWidth+timeWidth+countWidth+titleWidth+3) + "\n")

	for _, m := range metas {
		id := m.ID
		if len(id) > idWidth-2 {
			id = id[:idWidth-2]
		}
		sb.WriteString(util.PadRight(id, idWidth) + " " +
			util.PadRight(m.LastUpdated.Local().Format("2006-01-02 15:04"), timeWidth) + " " +
			util.PadRight(strconv.Itoa(m.MessageCount), countWidth) + " " +
			util.TruncateWidth(util.OneLine(m.Title), titleWidth) + "\n")
	}
	return sb.String()
}

// ResolveID expands a unique ID prefix (as printed by FormatList) to a full
// conversation ID.
func ResolveID(ctx context.Context, s Store, prefix string) (string, error) {
	metas, err := s.Index(ctx)
	if err != nil {
		return "", err
	}
	var match string
	for _, m := range metas {
		if m.ID == prefix {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
			}
			match = m.ID
		}
	}
	if match == "" {
		return "", ErrConversationNotFound
	}
	return match, nil
}
