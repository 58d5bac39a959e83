// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/jeranaias/thinkchat/internal/cloud"
)

var phaseHeaderRe = regexp.MustCompile(`You are in the ([A-Z]+)`)

// scriptedLLM replies per phase. Replies for a phase are consumed in order and
// the last one repeats. Text is streamed in chunkSize pieces.
type scriptedLLM struct {
	mu        sync.Mutex
	replies   map[Phase][]string
	errs      map[Phase]error
	chunkSize int

	// onChunk runs before each chunk is delivered.
	onChunk func(p Phase, i int)

	calls   []Phase
	systems []string
}

func newScriptedLLM(replies map[Phase][]string) *scriptedLLM {
	return &scriptedLLM{replies: replies, errs: map[Phase]error{}, chunkSize: 3}
}

func phaseOf(msgs []cloud.ChatMessage) Phase {
	if len(msgs) == 0 {
		return ""
	}
	m := phaseHeaderRe.FindStringSubmatch(msgs[0].Content)
	if m == nil {
		return ""
	}
	return Phase(strings.ToLower(m[1]))
}

func (s *scriptedLLM) next(msgs []cloud.ChatMessage) (Phase, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := phaseOf(msgs)
	s.calls = append(s.calls, p)
	s.systems = append(s.systems, msgs[0].Content)

	if err := s.errs[p]; err != nil {
		return p, "", err
	}
	list := s.replies[p]
	if len(list) == 0 {
		return p, "", nil
	}
	reply := list[0]
	if len(list) > 1 {
		s.replies[p] = list[1:]
	}
	return p, reply, nil
}

func (s *scriptedLLM) Complete(ctx context.Context, msgs []cloud.ChatMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &cloud.Error{Kind: cloud.KindAborted, Cause: err}
	}
	_, reply, err := s.next(msgs)
	return reply, err
}

func (s *scriptedLLM) StreamFunc(ctx context.Context, msgs []cloud.ChatMessage, fn func(cloud.Delta)) error {
	if err := ctx.Err(); err != nil {
		return &cloud.Error{Kind: cloud.KindAborted, Cause: err}
	}
	p, reply, err := s.next(msgs)
	if err != nil {
		return err
	}
	for i := 0; len(reply) > 0; i++ {
		n := s.chunkSize
		if n > len(reply) {
			n = len(reply)
		}
		if s.onChunk != nil {
			s.onChunk(p, i)
		}
		if err := ctx.Err(); err != nil {
			return &cloud.Error{Kind: cloud.KindAborted, Cause: err}
		}
		fn(cloud.Delta{Kind: cloud.DeltaContent, Text: reply[:n]})
		reply = reply[n:]
	}
	return nil
}

func (s *scriptedLLM) count(p Phase) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == p {
			n++
		}
	}
	return n
}

func (s *scriptedLLM) callList() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Phase(nil), s.calls...)
}

func (s *scriptedLLM) lastSystem(p Phase) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i] == p {
			return s.systems[i]
		}
	}
	return ""
}

// collector joins every emitted chunk.
type collector struct {
	chunks []Chunk
}

func (c *collector) emit(ch Chunk) { c.chunks = append(c.chunks, ch) }

func (c *collector) text() string {
	var sb strings.Builder
	for _, ch := range c.chunks {
		sb.WriteString(ch.Text)
	}
	return sb.String()
}
