// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reasoning decides when a request needs multi-step reasoning and
// runs the multi-phase pipeline that produces the answer.
//
// # Classifier
//
// Classifier.ShouldUseReasoning makes one completion call and parses a
// boolean out of the reply. Any failure or ambiguity yields false, so a
// misbehaving model costs quality, never latency.
//
// # Orchestrator
//
// Two strategies are available:
//
//   - staged:   GATHER, ANALYZE, SOLVE, REVIEW (retry SOLVE on UNACCEPTABLE), SUMMARIZE
//   - adaptive: STEP, CRITIQUE (CORRECT on Flawed), repeated until the model ends a
//     step with "REASONING COMPLETE.", then SUMMARIZE
//
// Every phase streams. Output is pushed as Chunks: a preamble, a boundary
// before each phase, the phase text, and a trace-close boundary before the
// summary. FinalAnswer recovers the summary from stored content.
//
//	orch := reasoning.New(client, reasoning.DefaultConfig())
//	out := orch.Run(ctx, reasoning.Request{Prompt: prompt}, func(c reasoning.Chunk) {
//		fmt.Print(c.Text)
//	})
package reasoning
