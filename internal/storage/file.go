// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/util"
)

const indexFile = "index.json"

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON file per conversation plus an index.json with
// listing metadata. A missing or corrupt index is rebuilt from the files.
type FileStore struct {
	// BaseDir is the directory for storing conversations
	// Default: ~/.thinkchat/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int

	mu sync.Mutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.Wrap(err, "create conversation dir")
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Get retrieves a conversation by ID.
func (s *FileStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// Set persists a conversation and updates the index.
func (s *FileStore) Set(ctx context.Context, conv *model.Conversation) error {
	if conv == nil {
		return errors.New("nil conversation")
	}
	if err := ValidateID(conv.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(conv.ID), data); err != nil {
		return errors.Wrapf(err, "write conversation %s", conv.ID)
	}

	metas, err := s.loadIndex()
	if err != nil {
		return err
	}
	metas = upsertMeta(metas, MetaOf(conv))
	metas = s.enforceLimit(metas)
	return s.saveIndex(metas)
}

// Delete removes a conversation by ID.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return errors.Wrapf(err, "delete conversation %s", id)
	}

	metas, err := s.loadIndex()
	if err != nil {
		return err
	}
	return s.saveIndex(removeMeta(metas, id))
}

// Index returns all saved conversations (most recent first).
func (s *FileStore) Index(ctx context.Context) ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadIndex()
}

// Search finds conversations whose title, preview or message content
// contains query (case-insensitive). An empty query lists everything.
func (s *FileStore) Search(ctx context.Context, query string) ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all, nil
	}

	var results []Meta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
			continue
		}
		// Load full conversation to search message content
		conv, err := s.read(meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error {
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

func (s *FileStore) read(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, errors.Wrapf(err, "read conversation %s", id)
	}
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, errors.Wrapf(err, "decode conversation %s", id)
	}
	return &conv, nil
}

// loadIndex reads index.json, rebuilding it when absent or unreadable.
func (s *FileStore) loadIndex() ([]Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.BaseDir, indexFile))
	if err == nil {
		var metas []Meta
		if jerr := json.Unmarshal(data, &metas); jerr == nil {
			return metas, nil
		}
		log.Warn().Str("component", "storage").Msg("conversation index corrupt, rebuilding")
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read index")
	}

	metas, err := s.rebuildIndex()
	if err != nil {
		return nil, err
	}
	if len(metas) > 0 {
		if err := s.saveIndex(metas); err != nil {
			return nil, err
		}
	}
	return metas, nil
}

func (s *FileStore) rebuildIndex() ([]Meta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Meta{}, nil
		}
		return nil, errors.Wrap(err, "scan conversation dir")
	}

	metas := []Meta{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == indexFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if ValidateID(id) != nil {
			continue
		}
		conv, err := s.read(id)
		if err != nil {
			continue // Skip corrupted files
		}
		metas = append(metas, MetaOf(conv))
	}
	sortMetas(metas)
	return metas, nil
}

func (s *FileStore) saveIndex(metas []Meta) error {
	data, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode index")
	}
	if err := util.AtomicWriteFile(filepath.Join(s.BaseDir, indexFile), data, util.SkipUnchanged()); err != nil {
		return errors.Wrap(err, "write index")
	}
	return nil
}

// enforceLimit removes the oldest conversations beyond MaxConversations.
// metas must be sorted newest first.
func (s *FileStore) enforceLimit(metas []Meta) []Meta {
	if s.MaxConversations <= 0 || len(metas) <= s.MaxConversations {
		return metas
	}
	for _, m := range metas[s.MaxConversations:] {
		if err := os.Remove(s.filePath(m.ID)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("component", "storage").Str("id", m.ID).Msg("prune conversation failed")
		}
	}
	return metas[:s.MaxConversations]
}

func upsertMeta(metas []Meta, m Meta) []Meta {
	metas = removeMeta(metas, m.ID)
	metas = append(metas, m)
	sortMetas(metas)
	return metas
}

func removeMeta(metas []Meta, id string) []Meta {
	out := metas[:0]
	for _, m := range metas {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// sortMetas orders by last update, most recent first.
func sortMetas(metas []Meta) {
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].LastUpdated.After(metas[j].LastUpdated)
	})
}
