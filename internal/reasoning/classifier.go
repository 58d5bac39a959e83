// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/thinkchat/internal/cloud"
)

// ============================================================================
// LLM INTERFACE
// ============================================================================

// LLM is the subset of cloud.Client the reasoning pipeline needs.
type LLM interface {
	Complete(ctx context.Context, messages []cloud.ChatMessage) (string, error)
	StreamFunc(ctx context.Context, messages []cloud.ChatMessage, fn func(cloud.Delta)) error
}

// Completer issues non-streaming calls only.
type Completer interface {
	Complete(ctx context.Context, messages []cloud.ChatMessage) (string, error)
}

// ============================================================================
// CLASSIFIER
// ============================================================================

// DefaultClassifierHistory is how many prior messages the classifier sees.
const DefaultClassifierHistory = 6

const classifierInstruction = `You decide whether a user's latest request needs careful multi-step reasoning before answering.

Multi-step reasoning helps with: planning, comparisons between options, multi-part questions, math or logic puzzles, debugging, and anything where a first draft is likely to contain mistakes.
It does not help with: greetings, small talk, simple facts, definitions, short rewrites, or requests answerable in one or two sentences.

Reply with one short sentence of rationale, then a final line that is exactly:
Decision: true
or
Decision: false`

// Classifier decides whether a request warrants the multi-phase pipeline.
type Classifier struct {
	llm     Completer
	history int
}

// NewClassifier creates a classifier that sends up to history prior messages
// along with the request. history < 0 means DefaultClassifierHistory.
func NewClassifier(llm Completer, history int) *Classifier {
	if history < 0 {
		history = DefaultClassifierHistory
	}
	return &Classifier{llm: llm, history: history}
}

// ShouldUseReasoning issues one completion and parses the decision. Any call
// failure or unparseable reply yields false.
func (c *Classifier) ShouldUseReasoning(ctx context.Context, input string, history []cloud.ChatMessage) bool {
	msgs := c.buildMessages(input, history)

	reply, err := c.llm.Complete(ctx, msgs)
	if err != nil {
		ev := log.Warn()
		if cloud.IsAborted(err) {
			ev = log.Debug()
		}
		ev.Err(err).Str("component", "classifier").Msg("classification failed, using single call")
		return false
	}

	decision, ok := ParseDecision(reply)
	if !ok {
		log.Warn().Str("component", "classifier").Int("reply_len", len(reply)).
			Msg("ambiguous classification, using single call")
		return false
	}
	log.Debug().Str("component", "classifier").Bool("decision", decision).Msg("classified request")
	return decision
}

func (c *Classifier) buildMessages(input string, history []cloud.ChatMessage) []cloud.ChatMessage {
	msgs := []cloud.ChatMessage{cloud.NewSystemMessage(classifierInstruction)}

	if c.history > 0 && len(history) > 0 {
		start := len(history) - c.history
		if start < 0 {
			start = 0
		}
		var sb strings.Builder
		sb.WriteString("Conversation so far, for context only:\n")
		for _, m := range history[start:] {
			if m.Role == "system" {
				continue
			}
			sb.WriteString(m.Role)
			sb.WriteString(": ")
			sb.WriteString(truncate(m.Content, 600))
			sb.WriteString("\n")
		}
		msgs = append(msgs, cloud.NewSystemMessage(sb.String()))
	}

	return append(msgs, cloud.NewUserMessage(input))
}

// ============================================================================
// DECISION PARSING
// ============================================================================

var (
	decisionLineRe = regexp.MustCompile("(?i)decision\\s*[:=]\\s*[*\"'`]*\\s*(true|false)\\b")
	boolWordRe     = regexp.MustCompile(`(?i)\b(true|false)\b`)
)

// ParseDecision extracts a boolean from a classifier reply. It accepts, in
// order: a "Decision: true|false" line (last one wins), a bare true/false
// token (quotes and JSON double-encoding tolerated), or a reply that
// mentions only one of the two words. ok is false when none of these match.
func ParseDecision(reply string) (decision bool, ok bool) {
	if matches := decisionLineRe.FindAllStringSubmatch(reply, -1); len(matches) > 0 {
		return strings.EqualFold(matches[len(matches)-1][1], "true"), true
	}

	bare := strings.ToLower(strings.TrimSpace(reply))
	bare = strings.Trim(bare, "\\\"'`*. \t\r\n")
	switch bare {
	case "true":
		return true, true
	case "false":
		return false, true
	}

	var sawTrue, sawFalse bool
	for _, w := range boolWordRe.FindAllString(reply, -1) {
		if strings.EqualFold(w, "true") {
			sawTrue = true
		} else {
			sawFalse = true
		}
	}
	if sawTrue != sawFalse {
		return sawTrue, true
	}
	return false, false
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
