// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/thinkchat/internal/util"
)

// =============================================================================
// FACT TYPE
// =============================================================================

// Fact is one durable piece of information about the user.
type Fact struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"` // conversation ID
	CreatedAt time.Time `json:"created_at"`
}

// NewFact creates a fact with a fresh ID.
func NewFact(text, source string, now time.Time) Fact {
	return Fact{
		ID:        uuid.New().String(),
		Text:      strings.TrimSpace(text),
		Source:    source,
		CreatedAt: now,
	}
}

// Normalize returns the dedupe key for a fact: NFC, lower case, single
// spaces, no trailing period.
func Normalize(text string) string {
	s := norm.NFC.String(text)
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".!")
}

// Texts returns the fact texts in order.
func Texts(facts []Fact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Text
	}
	return out
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists facts.
type Store interface {
	// Facts returns all facts, oldest first.
	Facts(ctx context.Context) ([]Fact, error)
	// AddFacts stores facts not already present and reports how many were new.
	AddFacts(ctx context.Context, facts []Fact) (int, error)
	// Clear forgets everything.
	Clear(ctx context.Context) error
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps facts in a single JSON file.
type FileStore struct {
	path string

	// MaxFacts caps the number of stored facts (0 = unlimited). The newest
	// facts are kept.
	MaxFacts int

	mu sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on the
// first write.
func NewFileStore(path string, maxFacts int) *FileStore {
	return &FileStore{path: path, MaxFacts: maxFacts}
}

// Facts returns all stored facts, oldest first.
func (s *FileStore) Facts(ctx context.Context) ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// AddFacts appends facts whose normalized text is new.
func (s *FileStore) AddFacts(ctx context.Context, facts []Fact) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return 0, err
	}
	merged, added := Merge(existing, facts, s.MaxFacts)
	if added == 0 {
		return 0, nil
	}
	return added, s.save(merged)
}

// Clear removes the facts file.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) load() ([]Fact, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var facts []Fact
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, err
	}
	return facts, nil
}

func (s *FileStore) save(facts []Fact) error {
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return err
	}
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(s.path, data)
}

// Merge appends the new facts to existing, skipping duplicates (including
// duplicates within incoming), and trims to the newest max facts.
func Merge(existing, incoming []Fact, max int) ([]Fact, int) {
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, f := range existing {
		seen[Normalize(f.Text)] = true
	}

	out := append([]Fact(nil), existing...)
	added := 0
	for _, f := range incoming {
		key := Normalize(f.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
		added++
	}

	if max > 0 && len(out) > max {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		out = out[len(out)-max:]
	}
	return out, added
}
