// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/jeranaias/thinkchat/internal/cloud"
	"github.com/jeranaias/thinkchat/internal/config"
)

var phaseRe = regexp.MustCompile(`You are in the ([A-Z]+)`)

// fakeLLM answers by recognizing which component is calling.
type fakeLLM struct {
	mu sync.Mutex

	classifierReply string
	classifierErr   error
	titleReply      string
	titleErr        error
	memoryReply     string

	stream    []cloud.Delta // single-call deltas
	streamErr error
	// block makes single-call streams emit their deltas and then wait for
	// cancellation.
	block   bool
	started chan struct{}

	phaseReplies map[string]string
	phaseErr     map[string]error

	completeCalls []string // "classifier", "title", "memory"
	streams       [][]cloud.ChatMessage
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		classifierReply: "Decision: false",
		titleReply:      "Test Title",
		memoryReply:     "[]",
		stream:          []cloud.Delta{{Kind: cloud.DeltaContent, Text: "4"}},
		started:         make(chan struct{}, 1),
		phaseReplies: map[string]string{
			"GATHER":    "facts",
			"ANALYZE":   "analysis",
			"SOLVE":     "draft",
			"REVIEW":    "ACCEPTABLE: fine",
			"SUMMARIZE": "The final answer.",
		},
		phaseErr: map[string]error{},
	}
}

func (f *fakeLLM) Complete(ctx context.Context, msgs []cloud.ChatMessage) (string, error) {
	sys := ""
	if len(msgs) > 0 {
		sys = msgs[0].Content
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.HasPrefix(sys, "You decide whether"):
		f.completeCalls = append(f.completeCalls, "classifier")
		return f.classifierReply, f.classifierErr
	case strings.HasPrefix(sys, "You name chat conversations"):
		f.completeCalls = append(f.completeCalls, "title")
		return f.titleReply, f.titleErr
	case strings.HasPrefix(sys, "You maintain a long-term memory"):
		f.completeCalls = append(f.completeCalls, "memory")
		return f.memoryReply, nil
	}
	f.completeCalls = append(f.completeCalls, "other")
	return "", nil
}

func (f *fakeLLM) StreamFunc(ctx context.Context, msgs []cloud.ChatMessage, fn func(cloud.Delta)) error {
	f.mu.Lock()
	f.streams = append(f.streams, msgs)
	var phase string
	for _, m := range msgs {
		if m.Role == "system" {
			if sm := phaseRe.FindStringSubmatch(m.Content); sm != nil {
				phase = sm[1]
				break
			}
		}
	}
	reply, perr := f.phaseReplies[phase], f.phaseErr[phase]
	deltas, serr, block := f.stream, f.streamErr, f.block
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &cloud.Error{Kind: cloud.KindAborted, Message: "request canceled", Cause: err}
	}

	if phase != "" {
		if perr != nil {
			return perr
		}
		fn(cloud.Delta{Kind: cloud.DeltaContent, Text: reply})
		return nil
	}

	for _, d := range deltas {
		fn(d)
	}
	if block {
		select {
		case f.started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return &cloud.Error{Kind: cloud.KindAborted, Message: "stream canceled", Cause: ctx.Err()}
	}
	return serr
}

func (f *fakeLLM) calls(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.completeCalls {
		if c == kind {
			n++
		}
	}
	return n
}

// lastSingle returns the messages of the most recent non-phase stream.
func (f *fakeLLM) lastSingle() []cloud.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.streams) - 1; i >= 0; i-- {
		msgs := f.streams[i]
		if len(msgs) > 0 && !phaseRe.MatchString(msgs[0].Content) {
			return msgs
		}
	}
	return nil
}

func (f *fakeLLM) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// countingProvider records how often settings are read.
type countingProvider struct {
	mu  sync.Mutex
	cfg *config.Config
	n   int
}

func (p *countingProvider) Current() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return p.cfg
}

func (p *countingProvider) reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}
