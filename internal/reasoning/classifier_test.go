// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/thinkchat/internal/cloud"
)

type fakeCompleter struct {
	reply string
	err   error
	msgs  []cloud.ChatMessage
}

func (f *fakeCompleter) Complete(ctx context.Context, msgs []cloud.ChatMessage) (string, error) {
	f.msgs = msgs
	return f.reply, f.err
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		reply  string
		want   bool
		wantOK bool
	}{
		{"Decision: true", true, true},
		{"decision: FALSE", false, true},
		{"The user asks for a comparison.\nDecision: true", true, true},
		{"Decision = **true**", true, true},
		{"Decision: false\nActually, on reflection.\nDecision: true", true, true},
		{"true", true, true},
		{"  False.  ", false, true},
		{`"true"`, true, true},
		{`"\"true\""`, true, true},
		{"`false`", false, true},
		{"I think the answer is true here", true, true},
		{"This is false.", false, true},
		{"It could be true or false", false, false},
		{"maybe", false, false},
		{"", false, false},
		{"construed", false, false},
	}
	for _, tt := range tests {
		got, ok := ParseDecision(tt.reply)
		assert.Equal(t, tt.wantOK, ok, "ok for %q", tt.reply)
		assert.Equal(t, tt.want, got, "decision for %q", tt.reply)
	}
}

func TestClassifier_Decisions(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  bool
	}{
		{"positive", "Multi-part planning.\nDecision: true", nil, true},
		{"negative", "Greeting.\nDecision: false", nil, false},
		{"ambiguous defaults false", "hard to say", nil, false},
		{"network error defaults false", "", &cloud.Error{Kind: cloud.KindNetwork, Cause: errors.New("refused")}, false},
		{"api error defaults false", "", &cloud.Error{Kind: cloud.KindRemoteAPI, Status: 500}, false},
		{"malformed defaults false", "", cloud.NewMalformedError("no choices"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeCompleter{reply: tt.reply, err: tt.err}
			c := NewClassifier(llm, -1)
			assert.Equal(t, tt.want, c.ShouldUseReasoning(context.Background(), "hello", nil))
		})
	}
}

func TestClassifier_CanceledDefaultsFalse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	llm := &fakeCompleter{err: &cloud.Error{Kind: cloud.KindAborted, Cause: context.Canceled}}

	assert.False(t, NewClassifier(llm, 2).ShouldUseReasoning(ctx, "plan my week", nil))
}

func TestClassifier_MessageShape(t *testing.T) {
	llm := &fakeCompleter{reply: "Decision: false"}
	history := []cloud.ChatMessage{
		cloud.NewUserMessage("one"),
		cloud.NewAssistantMessage("two"),
		cloud.NewUserMessage("three"),
		cloud.NewAssistantMessage("four"),
	}

	NewClassifier(llm, 2).ShouldUseReasoning(context.Background(), "five", history)

	require.Len(t, llm.msgs, 3)
	assert.Equal(t, "system", llm.msgs[0].Role)
	assert.Contains(t, llm.msgs[0].Content, "Decision: true")

	ctxMsg := llm.msgs[1].Content
	assert.Contains(t, ctxMsg, "user: three")
	assert.Contains(t, ctxMsg, "assistant: four")
	assert.False(t, strings.Contains(ctxMsg, "one"), "history beyond the limit is dropped")

	assert.Equal(t, cloud.NewUserMessage("five"), llm.msgs[2])
}

func TestClassifier_NoHistory(t *testing.T) {
	llm := &fakeCompleter{reply: "false"}
	NewClassifier(llm, 0).ShouldUseReasoning(context.Background(), "hi", []cloud.ChatMessage{cloud.NewUserMessage("x")})
	assert.Len(t, llm.msgs, 2)
}
