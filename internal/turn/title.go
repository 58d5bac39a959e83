// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/thinkchat/internal/cloud"
	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/reasoning"
	"github.com/jeranaias/thinkchat/internal/util"
)

// MaxTitleWidth is the display width titles are truncated to.
const MaxTitleWidth = 60

// =============================================================================
// TITLER INTERFACE
// =============================================================================

// Titler names a conversation from its first messages.
type Titler interface {
	Title(ctx context.Context, messages []*model.Message) (string, error)
}

// =============================================================================
// LLM TITLER
// =============================================================================

const titleSystemPrompt = `You name chat conversations. Write a short title (at most six words) for the conversation below.

Reply with the title only: no quotes, no trailing punctuation, no "Title:" prefix.`

const (
	titleMessages = 4
	titleRunes    = 500
)

// LLMTitler asks the model for a title and falls back to a preview of the
// first user message when the call fails or returns nothing usable.
type LLMTitler struct {
	llm      reasoning.Completer
	fallback PreviewTitler
}

// NewLLMTitler creates a titler backed by llm.
func NewLLMTitler(llm reasoning.Completer) *LLMTitler {
	return &LLMTitler{llm: llm}
}

// Title never returns an error; failures fall back to the preview title.
func (t *LLMTitler) Title(ctx context.Context, messages []*model.Message) (string, error) {
	reply, err := t.llm.Complete(ctx, []cloud.ChatMessage{
		cloud.NewSystemMessage(titleSystemPrompt),
		cloud.NewUserMessage(titlePrompt(messages)),
	})
	if err == nil {
		if title := CleanTitle(reply); title != "" {
			return title, nil
		}
		err = fmt.Errorf("empty title")
	}
	log.Debug().Err(err).Str("component", "turn").Msg("title generation failed, using preview")
	return t.fallback.Title(ctx, messages)
}

func titlePrompt(messages []*model.Message) string {
	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	n := 0
	for _, m := range messages {
		if n == titleMessages {
			break
		}
		content := m.Content
		switch m.Role {
		case model.RoleUser:
		case model.RoleAssistant:
			content = reasoning.FinalAnswer(content)
		default:
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		if r := []rune(content); len(r) > titleRunes {
			content = string(r[:titleRunes]) + "..."
		}
		sb.WriteString(m.Role.DisplayName())
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteString("\n")
		n++
	}
	return strings.TrimRight(sb.String(), "\n")
}

// =============================================================================
// PREVIEW TITLER (NO LLM)
// =============================================================================

// PreviewTitler uses the first user message as the title.
type PreviewTitler struct{}

// Title returns the first user message on one line, truncated.
func (PreviewTitler) Title(ctx context.Context, messages []*model.Message) (string, error) {
	for _, m := range messages {
		if m.Role == model.RoleUser && !m.IsEmpty() {
			return util.TruncateWidth(util.OneLine(m.Content), MaxTitleWidth), nil
		}
	}
	return "New Conversation", nil
}

var titlePrefixRe = regexp.MustCompile(`(?i)^\s*title\s*:\s*`)

// CleanTitle reduces a model reply to a single display title: first
// non-blank line, no "Title:" prefix, no wrapping quotes or markdown, no
// trailing period.
func CleanTitle(reply string) string {
	var line string
	for _, l := range strings.Split(reply, "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}
	line = titlePrefixRe.ReplaceAllString(line, "")
	line = strings.Trim(line, " \t#*_`\"'")
	line = strings.TrimRight(line, ".")
	line = util.OneLine(line)
	return util.TruncateWidth(line, MaxTitleWidth)
}
