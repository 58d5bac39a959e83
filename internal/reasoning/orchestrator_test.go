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

// =============================================================================
// STAGED STRATEGY
// =============================================================================

func stagedReplies() map[Phase][]string {
	return map[Phase][]string{
		PhaseGather:    {"Kyoto has temples and food."},
		PhaseAnalyze:   {"Compare culture vs food itineraries."},
		PhaseSolve:     {"Day 1 temples, day 2 markets, day 3 Arashiyama."},
		PhaseReview:    {"ACCEPTABLE: covers all three days."},
		PhaseSummarize: {"Go with the culture itinerary."},
	}
}

func TestStaged_HappyPath(t *testing.T) {
	llm := newScriptedLLM(stagedReplies())
	orch := New(llm, DefaultConfig())
	var c collector

	out := orch.Run(context.Background(), Request{Prompt: "Plan a 3-day trip to Kyoto"}, c.emit)

	require.NoError(t, out.Err)
	assert.False(t, out.Aborted)
	assert.False(t, out.LimitReached)
	assert.Equal(t, []Phase{PhaseGather, PhaseAnalyze, PhaseSolve, PhaseReview, PhaseSummarize}, llm.callList())
	assert.Equal(t, "Go with the culture itinerary.", out.Final)

	content := c.text()
	assert.True(t, strings.HasPrefix(content, Preamble))
	for _, p := range []Phase{PhaseGather, PhaseAnalyze, PhaseSolve, PhaseReview} {
		assert.Contains(t, content, PhaseMarker(p))
	}
	assert.Equal(t, "Go with the culture itinerary.", FinalAnswer(content))

	trace, _ := SplitTrace(content)
	assert.Contains(t, trace, "Day 1 temples")

	require.NotNil(t, out.Phases[3].Verdict)
	assert.True(t, out.Phases[3].Verdict.Acceptable)
	assert.Equal(t, int64(0), orch.VerdictFallbacks())
}

func TestStaged_SummarizeSeesWholeTranscript(t *testing.T) {
	llm := newScriptedLLM(stagedReplies())
	New(llm, DefaultConfig()).Run(context.Background(), Request{Prompt: "trip", System: "Be brief."}, nil)

	sys := llm.lastSystem(PhaseSummarize)
	assert.True(t, strings.HasPrefix(sys, "Be brief."))
	assert.Contains(t, sys, "## GATHER\nKyoto has temples and food.")
	assert.Contains(t, sys, "## ANALYZE\n")
	assert.Contains(t, sys, "## SOLVE\n")
	assert.Contains(t, sys, "## REVIEW\n")
	assert.Contains(t, sys, "Original request:\ntrip")
}

func TestStaged_RetryCeiling(t *testing.T) {
	replies := stagedReplies()
	replies[PhaseReview] = []string{"UNACCEPTABLE: day 2 is missing lunch."}
	llm := newScriptedLLM(replies)
	orch := New(llm, DefaultConfig())
	var c collector

	out := orch.Run(context.Background(), Request{Prompt: "trip"}, c.emit)

	require.NoError(t, out.Err)
	assert.True(t, out.LimitReached)
	assert.Equal(t, DefaultMaxAttempts, llm.count(PhaseSolve))
	assert.Equal(t, DefaultMaxAttempts, llm.count(PhaseReview))
	assert.Equal(t, 1, llm.count(PhaseSummarize))
	assert.Contains(t, c.text(), RetryLimitMarker(DefaultMaxAttempts, "attempts"))

	// feedback from the failed review reaches the next SOLVE verbatim
	assert.Contains(t, llm.lastSystem(PhaseSolve), "day 2 is missing lunch.")
	assert.Contains(t, llm.lastSystem(PhaseSolve), "SOLVE (attempt 3)")
}

func TestStaged_RetryThenAccept(t *testing.T) {
	replies := stagedReplies()
	replies[PhaseReview] = []string{"UNACCEPTABLE: too vague", "ACCEPTABLE: fine"}
	llm := newScriptedLLM(replies)

	out := New(llm, DefaultConfig()).Run(context.Background(), Request{Prompt: "trip"}, nil)

	assert.False(t, out.LimitReached)
	assert.Equal(t, 2, llm.count(PhaseSolve))
	assert.Equal(t, 1, llm.count(PhaseSummarize))
}

func TestStaged_MissingVerdictFailsOpen(t *testing.T) {
	replies := stagedReplies()
	replies[PhaseReview] = []string{"Looks mostly fine to me."}
	llm := newScriptedLLM(replies)
	orch := New(llm, DefaultConfig())

	out := orch.Run(context.Background(), Request{Prompt: "trip"}, nil)

	assert.Equal(t, 1, llm.count(PhaseSolve))
	assert.Equal(t, int64(1), orch.VerdictFallbacks())
	v := out.Phases[3].Verdict
	require.NotNil(t, v)
	assert.True(t, v.Acceptable)
	assert.False(t, v.Found)
}

// =============================================================================
// ADAPTIVE STRATEGY
// =============================================================================

func adaptiveConfig(maxSteps int) Config {
	return Config{Strategy: StrategyAdaptive, MaxSteps: maxSteps}
}

func TestAdaptive_StopsOnCompletionMarker(t *testing.T) {
	llm := newScriptedLLM(map[Phase][]string{
		PhaseStep:      {"First, list options.", "Pick option A.\nREASONING COMPLETE."},
		PhaseCritique:  {"Critique Result: Acceptable"},
		PhaseSummarize: {"Option A."},
	})
	var c collector

	out := New(llm, adaptiveConfig(15)).Run(context.Background(), Request{Prompt: "choose"}, c.emit)

	require.NoError(t, out.Err)
	assert.Equal(t, []Phase{PhaseStep, PhaseCritique, PhaseStep, PhaseCritique, PhaseSummarize}, llm.callList())
	assert.NotContains(t, c.text(), CompletionMarker)
	assert.Equal(t, "Option A.", FinalAnswer(c.text()))
}

func TestAdaptive_MarkerStrippedFromTranscript(t *testing.T) {
	for _, size := range []int{1, 2, 3, 7, 100} {
		llm := newScriptedLLM(map[Phase][]string{
			PhaseStep:      {"The answer is 42.\n\nREASONING COMPLETE.\n"},
			PhaseCritique:  {"Critique Result: Acceptable"},
			PhaseSummarize: {"42"},
		})
		llm.chunkSize = size
		var c collector

		out := New(llm, adaptiveConfig(15)).Run(context.Background(), Request{Prompt: "q"}, c.emit)

		assert.Equal(t, "The answer is 42.", out.Phases[0].Text, "chunk size %d", size)
		assert.NotContains(t, c.text(), "REASONING", "chunk size %d", size)
		assert.NotContains(t, llm.lastSystem(PhaseSummarize), CompletionMarker, "chunk size %d", size)
		assert.Contains(t, c.text(), "The answer is 42.", "chunk size %d", size)
	}
}

func TestAdaptive_RetryCeiling(t *testing.T) {
	llm := newScriptedLLM(map[Phase][]string{
		PhaseStep:      {"a step"},
		PhaseCritique:  {"Critique Result: **Flawed** the math is wrong"},
		PhaseCorrect:   {"a corrected step"},
		PhaseSummarize: {"best effort"},
	})
	var c collector

	out := New(llm, adaptiveConfig(4)).Run(context.Background(), Request{Prompt: "q"}, c.emit)

	assert.True(t, out.LimitReached)
	assert.Equal(t, 4, llm.count(PhaseStep))
	assert.Equal(t, 3, llm.count(PhaseCorrect))
	assert.Equal(t, 1, llm.count(PhaseSummarize))
	assert.Contains(t, c.text(), RetryLimitMarker(4, "steps"))
	assert.Contains(t, llm.lastSystem(PhaseStep), "the math is wrong")
}

func TestAdaptive_FlawedFinalStepIsCorrectedThenSummarized(t *testing.T) {
	llm := newScriptedLLM(map[Phase][]string{
		PhaseStep:      {"done REASONING COMPLETE."},
		PhaseCritique:  {"Critique Result: Flawed"},
		PhaseCorrect:   {"fixed"},
		PhaseSummarize: {"answer"},
	})

	out := New(llm, adaptiveConfig(15)).Run(context.Background(), Request{Prompt: "q"}, nil)

	assert.Equal(t, []Phase{PhaseStep, PhaseCritique, PhaseCorrect, PhaseSummarize}, llm.callList())
	assert.False(t, out.LimitReached)
}

func TestAdaptive_BareCompletionMarkerSummarizes(t *testing.T) {
	llm := newScriptedLLM(map[Phase][]string{
		PhaseStep:      {"First, 2+2 is 4.", "REASONING COMPLETE."},
		PhaseCritique:  {"Critique Result: Acceptable"},
		PhaseSummarize: {"4"},
	})
	var c collector

	out := New(llm, adaptiveConfig(15)).Run(context.Background(), Request{Prompt: "2+2?"}, c.emit)

	require.NoError(t, out.Err)
	assert.Equal(t, []Phase{PhaseStep, PhaseCritique, PhaseStep, PhaseSummarize}, llm.callList())
	assert.Equal(t, "4", out.Final)
	assert.Equal(t, "4", FinalAnswer(c.text()))
	assert.NotContains(t, c.text(), CompletionMarker)
	assert.NotContains(t, c.text(), "[reasoning error")
	for _, ph := range out.Phases {
		assert.NotEmpty(t, ph.Text, "phase %s", ph.Phase)
	}
}

func TestAdaptive_FirstStepBareMarker(t *testing.T) {
	llm := newScriptedLLM(map[Phase][]string{
		PhaseStep:      {"REASONING COMPLETE.\n"},
		PhaseSummarize: {"nothing to reason about"},
	})

	out := New(llm, adaptiveConfig(15)).Run(context.Background(), Request{Prompt: "hi"}, nil)

	require.NoError(t, out.Err)
	assert.Equal(t, []Phase{PhaseStep, PhaseSummarize}, llm.callList())
	assert.Equal(t, "nothing to reason about", out.Final)
}

func TestAdaptive_CorrectionCanFinish(t *testing.T) {
	llm := newScriptedLLM(map[Phase][]string{
		PhaseStep:      {"a shaky step"},
		PhaseCritique:  {"Critique Result: Flawed off by one"},
		PhaseCorrect:   {"fixed it, the answer is 7.\nREASONING COMPLETE."},
		PhaseSummarize: {"7"},
	})
	var c collector

	out := New(llm, adaptiveConfig(15)).Run(context.Background(), Request{Prompt: "q"}, c.emit)

	require.NoError(t, out.Err)
	assert.Equal(t, []Phase{PhaseStep, PhaseCritique, PhaseCorrect, PhaseSummarize}, llm.callList())
	assert.False(t, out.LimitReached)
	assert.NotContains(t, c.text(), CompletionMarker)
	assert.Equal(t, "fixed it, the answer is 7.", out.Phases[2].Text)
}

func TestAdaptive_CorrectionBareMarker(t *testing.T) {
	llm := newScriptedLLM(map[Phase][]string{
		PhaseStep:      {"a shaky step"},
		PhaseCritique:  {"Critique Result: Flawed"},
		PhaseCorrect:   {"REASONING COMPLETE."},
		PhaseSummarize: {"done"},
	})

	out := New(llm, adaptiveConfig(15)).Run(context.Background(), Request{Prompt: "q"}, nil)

	require.NoError(t, out.Err)
	assert.Equal(t, []Phase{PhaseStep, PhaseCritique, PhaseCorrect, PhaseSummarize}, llm.callList())
	assert.Equal(t, "done", out.Final)
}

// =============================================================================
// CANCELLATION AND FAILURE
// =============================================================================

func TestRun_CancelMidPhase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	llm := newScriptedLLM(stagedReplies())
	llm.onChunk = func(p Phase, i int) {
		if p == PhaseAnalyze && i == 2 {
			cancel()
		}
	}
	var c collector

	out := New(llm, DefaultConfig()).Run(ctx, Request{Prompt: "trip"}, c.emit)

	assert.True(t, out.Aborted)
	assert.NoError(t, out.Err)
	assert.Equal(t, []Phase{PhaseGather, PhaseAnalyze}, llm.callList())
	content := c.text()
	assert.True(t, strings.HasSuffix(content, AbortedMarker))
	assert.Contains(t, content, "Compar", "partial phase text is kept")
	assert.NotContains(t, content, "[reasoning error")
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	llm := newScriptedLLM(stagedReplies())
	var c collector

	out := New(llm, DefaultConfig()).Run(ctx, Request{Prompt: "trip"}, c.emit)

	assert.True(t, out.Aborted)
	assert.Empty(t, llm.callList())
	assert.Equal(t, Preamble+AbortedMarker, c.text())
}

func TestRun_EmptyPhaseIsMalformed(t *testing.T) {
	replies := stagedReplies()
	replies[PhaseSolve] = []string{"   "}
	llm := newScriptedLLM(replies)
	var c collector

	out := New(llm, DefaultConfig()).Run(context.Background(), Request{Prompt: "trip"}, c.emit)

	require.Error(t, out.Err)
	assert.True(t, cloud.IsMalformed(out.Err))
	assert.Equal(t, 0, llm.count(PhaseSummarize))
	assert.True(t, strings.HasSuffix(c.text(), ErrorMarker("solve phase returned no text")))
}

func TestRun_RemoteErrorEndsRun(t *testing.T) {
	llm := newScriptedLLM(stagedReplies())
	llm.errs[PhaseAnalyze] = &cloud.Error{Kind: cloud.KindRemoteAPI, Status: 503, Message: "overloaded"}
	var c collector

	out := New(llm, DefaultConfig()).Run(context.Background(), Request{Prompt: "trip"}, c.emit)

	assert.True(t, cloud.IsRemoteAPI(out.Err))
	assert.False(t, out.Aborted)
	assert.Equal(t, []Phase{PhaseGather, PhaseAnalyze}, llm.callList())
	assert.True(t, strings.HasSuffix(c.text(), ErrorMarker("overloaded")))
}

func TestRun_PlainErrorMessage(t *testing.T) {
	llm := newScriptedLLM(stagedReplies())
	llm.errs[PhaseGather] = errors.New("boom")
	var c collector

	New(llm, DefaultConfig()).Run(context.Background(), Request{Prompt: "trip"}, c.emit)

	assert.True(t, strings.HasSuffix(c.text(), ErrorMarker("boom")))
}

func TestStream_DeliversSameChunks(t *testing.T) {
	var want collector
	New(newScriptedLLM(stagedReplies()), DefaultConfig()).Run(context.Background(), Request{Prompt: "trip"}, want.emit)

	var got collector
	for ch := range New(newScriptedLLM(stagedReplies()), DefaultConfig()).Stream(context.Background(), Request{Prompt: "trip"}) {
		got.emit(ch)
	}

	assert.Equal(t, want.chunks, got.chunks)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Adaptive")
	require.NoError(t, err)
	assert.Equal(t, StrategyAdaptive, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyStaged, s)

	_, err = ParseStrategy("gather")
	assert.Error(t, err)
}
