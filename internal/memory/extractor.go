// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/thinkchat/internal/cloud"
	"github.com/jeranaias/thinkchat/internal/prompt"
)

// Completer is the one-shot completion the extractor needs.
type Completer interface {
	Complete(ctx context.Context, messages []cloud.ChatMessage) (string, error)
}

const (
	// DefaultTimeout bounds a single extraction call.
	DefaultTimeout = 30 * time.Second

	maxFactLen     = 300
	contextTurns   = 4
	maxContextRune = 800
)

const extractInstruction = `You maintain a long-term memory of durable facts about the user: name, location, job, preferences, projects, people and pets they mention.

Read the user's latest message and list any NEW facts it reveals about the user. Ignore questions, requests, and anything temporary. Do not repeat facts already known.

Reply with a JSON array of short third-person strings, for example ["Lives in Oslo", "Prefers Python"]. Reply with [] when there is nothing new.`

// Extractor pulls durable user facts out of conversation turns.
type Extractor struct {
	llm     Completer
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// NewExtractor creates an extractor writing to store.
func NewExtractor(llm Completer, store Store) *Extractor {
	return &Extractor{llm: llm, store: store, timeout: DefaultTimeout, now: time.Now}
}

// WithTimeout sets the per-call timeout.
func (e *Extractor) WithTimeout(d time.Duration) *Extractor {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// Store returns the backing store.
func (e *Extractor) Store() Store {
	return e.store
}

// Observe asks the model for new facts in latest and stores them. source is
// recorded on every fact (normally the conversation ID). It returns the
// number of facts added.
func (e *Extractor) Observe(ctx context.Context, source, latest string, history []cloud.ChatMessage) (int, error) {
	if strings.TrimSpace(latest) == "" {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	known, err := e.store.Facts(ctx)
	if err != nil {
		return 0, err
	}

	reply, err := e.llm.Complete(ctx, e.buildMessages(latest, history, known))
	if err != nil {
		return 0, err
	}

	texts := ParseFacts(reply)
	if len(texts) == 0 {
		return 0, nil
	}
	now := e.now()
	facts := make([]Fact, 0, len(texts))
	for _, t := range texts {
		facts = append(facts, NewFact(t, source, now))
	}

	added, err := e.store.AddFacts(ctx, facts)
	if err != nil {
		return 0, err
	}
	if added > 0 {
		log.Debug().Int("added", added).Str("source", source).Msg("memory updated")
	}
	return added, nil
}

// Note renders the stored facts as a system note for the next request.
func (e *Extractor) Note(ctx context.Context) (string, error) {
	facts, err := e.store.Facts(ctx)
	if err != nil {
		return "", err
	}
	return prompt.MemoryNote(Texts(facts)), nil
}

func (e *Extractor) buildMessages(latest string, history []cloud.ChatMessage, known []Fact) []cloud.ChatMessage {
	var sb strings.Builder
	sb.WriteString(extractInstruction)

	if len(known) > 0 {
		sb.WriteString("\n\nAlready known:\n")
		for _, f := range known {
			sb.WriteString("- ")
			sb.WriteString(f.Text)
			sb.WriteString("\n")
		}
	}

	var recent []cloud.ChatMessage
	for _, m := range history {
		if m.Role != "system" {
			recent = append(recent, m)
		}
	}
	if len(recent) > contextTurns {
		recent = recent[len(recent)-contextTurns:]
	}
	if len(recent) > 0 {
		sb.WriteString("\n\nRecent conversation:\n")
		for _, m := range recent {
			sb.WriteString(m.Role)
			sb.WriteString(": ")
			sb.WriteString(clip(m.Content, maxContextRune))
			sb.WriteString("\n")
		}
	}

	return []cloud.ChatMessage{
		cloud.NewSystemMessage(strings.TrimRight(sb.String(), "\n")),
		cloud.NewUserMessage(latest),
	}
}

// =============================================================================
// REPLY PARSING
// =============================================================================

var (
	fenceRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
)

// ParseFacts extracts fact strings from a model reply. A JSON array is
// preferred (optionally inside a code fence); bulleted lines are the
// fallback. Blank, overlong and duplicate entries are dropped.
func ParseFacts(reply string) []string {
	text := strings.TrimSpace(reply)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	var raw []string
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		var arr []string
		if err := json.Unmarshal([]byte(text[start:end+1]), &arr); err == nil {
			raw = arr
		} else {
			raw = bullets(text)
		}
	} else {
		raw = bullets(text)
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		key := Normalize(s)
		if key == "" || len([]rune(s)) > maxFactLen || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func bullets(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			out = append(out, strings.Trim(m[1], `"`))
		}
	}
	return out
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
