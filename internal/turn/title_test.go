// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/reasoning"
	"github.com/jeranaias/thinkchat/internal/util"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Kyoto Trip Planning", "Kyoto Trip Planning"},
		{`"Kyoto Trip Planning."`, "Kyoto Trip Planning"},
		{"Title: Kyoto Trip", "Kyoto Trip"},
		{"\n\n**Kyoto   Trip**\nextra line", "Kyoto Trip"},
		{"# Heading Title", "Heading Title"},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanTitle(tt.in), "CleanTitle(%q)", tt.in)
	}

	long := CleanTitle(strings.Repeat("word ", 30))
	assert.LessOrEqual(t, util.StringWidth(long), MaxTitleWidth)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestPreviewTitler(t *testing.T) {
	ctx := context.Background()
	title, err := PreviewTitler{}.Title(ctx, []*model.Message{
		model.NewSystemMessage("sys"),
		model.NewUserMessage("How do I\nreverse a list?"),
	})
	require.NoError(t, err)
	assert.Equal(t, "How do I reverse a list?", title)

	title, _ = PreviewTitler{}.Title(ctx, nil)
	assert.Equal(t, "New Conversation", title)

	wide := strings.Repeat("漢", 40)
	title, _ = PreviewTitler{}.Title(ctx, []*model.Message{model.NewUserMessage(wide)})
	assert.LessOrEqual(t, util.StringWidth(title), MaxTitleWidth)
}

func TestLLMTitler(t *testing.T) {
	ctx := context.Background()
	answer := model.NewAssistantMessage()
	answer.Content = reasoning.Preamble + "long trace" + reasoning.TraceClose + "Short answer"
	msgs := []*model.Message{model.NewUserMessage("Plan my week"), answer}

	llm := newFakeLLM()
	llm.titleReply = "Title: Weekly Plan."
	title, err := NewLLMTitler(llm).Title(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "Weekly Plan", title)

	prompt := titlePrompt(msgs)
	assert.Contains(t, prompt, "You: Plan my week")
	assert.Contains(t, prompt, "Assistant: Short answer")
	assert.NotContains(t, prompt, "long trace")

	llm.titleErr = errors.New("offline")
	title, err = NewLLMTitler(llm).Title(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "Plan my week", title)

	llm.titleErr = nil
	llm.titleReply = "  \n "
	title, _ = NewLLMTitler(llm).Title(ctx, msgs)
	assert.Equal(t, "Plan my week", title)
}
