// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/thinkchat/internal/cloud"
)

type stubLLM struct {
	reply string
	err   error
	got   []cloud.ChatMessage
}

func (s *stubLLM) Complete(ctx context.Context, msgs []cloud.ChatMessage) (string, error) {
	s.got = msgs
	return s.reply, s.err
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "lives in oslo", Normalize("  Lives   in Oslo. "))
	// Decomposed e + combining acute composes to the same key.
	assert.Equal(t, Normalize("Caf\u00e9"), Normalize("Cafe\u0301"))
	assert.Equal(t, "", Normalize(" . "))
}

func TestMerge(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := []Fact{
		{ID: "1", Text: "Lives in Oslo", CreatedAt: base},
		{ID: "2", Text: "Has a dog", CreatedAt: base.Add(time.Hour)},
	}
	incoming := []Fact{
		{ID: "3", Text: "lives in oslo.", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "4", Text: "Prefers Go", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "5", Text: "prefers go", CreatedAt: base.Add(4 * time.Hour)},
	}

	merged, added := Merge(existing, incoming, 0)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"Lives in Oslo", "Has a dog", "Prefers Go"}, Texts(merged))

	capped, _ := Merge(existing, incoming, 2)
	assert.Equal(t, []string{"Has a dog", "Prefers Go"}, Texts(capped))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "memory.json")
	s := NewFileStore(path, 10)

	facts, err := s.Facts(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts)

	now := time.Now()
	n, err := s.AddFacts(ctx, []Fact{NewFact("Likes tea", "c1", now), NewFact("Likes tea", "c1", now)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.AddFacts(ctx, []Fact{NewFact("LIKES TEA", "c2", now)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	reopened := NewFileStore(path, 10)
	facts, err = reopened.Facts(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "c1", facts[0].Source)
	assert.NotEmpty(t, facts[0].ID)

	require.NoError(t, reopened.Clear(ctx))
	require.NoError(t, reopened.Clear(ctx))
	facts, err = reopened.Facts(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestParseFacts(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"json", `["Lives in Oslo", "Prefers Go"]`, []string{"Lives in Oslo", "Prefers Go"}},
		{"empty array", `[]`, []string{}},
		{"fenced", "Here you go:\n```json\n[\"Has a cat\"]\n```", []string{"Has a cat"}},
		{"prose around array", `New facts: ["Is a nurse"] that's all`, []string{"Is a nurse"}},
		{"bullets", "- Lives in Oslo\n* Has two kids\n1. Drives a Volvo", []string{"Lives in Oslo", "Has two kids", "Drives a Volvo"}},
		{"dedupe and blanks", `["Likes tea", "likes tea.", "  "]`, []string{"Likes tea"}},
		{"nothing", "No new facts.", []string{}},
		{"too long", `["` + strings.Repeat("x", maxFactLen+1) + `"]`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFacts(tt.reply)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractor_Observe(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "memory.json"), 0)
	_, err := store.AddFacts(ctx, []Fact{NewFact("Lives in Oslo", "old", time.Now())})
	require.NoError(t, err)

	llm := &stubLLM{reply: `["Lives in Oslo", "Has a dog named Rex"]`}
	ex := NewExtractor(llm, store)

	history := []cloud.ChatMessage{
		cloud.NewSystemMessage("sys"),
		cloud.NewUserMessage("hi"),
		cloud.NewAssistantMessage("hello"),
	}
	added, err := ex.Observe(ctx, "conv-1", "My dog Rex is sick", history)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	require.Len(t, llm.got, 2)
	sys := llm.got[0].Content
	assert.Contains(t, sys, "Already known:\n- Lives in Oslo")
	assert.Contains(t, sys, "user: hi\nassistant: hello")
	assert.NotContains(t, sys, "system: sys")
	assert.Equal(t, "My dog Rex is sick", llm.got[1].Content)

	note, err := ex.Note(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Things you remember about the user from earlier conversations:\n- Lives in Oslo\n- Has a dog named Rex", note)
}

func TestExtractor_ErrorsAndBlankInput(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "memory.json"), 0)

	llm := &stubLLM{err: errors.New("boom")}
	ex := NewExtractor(llm, store).WithTimeout(time.Second)

	n, err := ex.Observe(ctx, "c", "   ", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, llm.got, "blank input should not call the model")

	_, err = ex.Observe(ctx, "c", "I live in Rome", nil)
	assert.Error(t, err)
}
