// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/thinkchat/internal/cloud"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Strategy selects the phase sequence.
type Strategy string

const (
	// StrategyStaged runs GATHER, ANALYZE, then SOLVE/REVIEW until the review
	// accepts or MaxAttempts is reached, then SUMMARIZE.
	StrategyStaged Strategy = "staged"

	// StrategyAdaptive runs STEP/CRITIQUE (with CORRECT on a flawed critique)
	// until the model signals completion or MaxSteps is reached, then SUMMARIZE.
	StrategyAdaptive Strategy = "adaptive"
)

const (
	DefaultMaxAttempts = 3
	DefaultMaxSteps    = 15
)

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyStaged, "":
		return StrategyStaged, nil
	case StrategyAdaptive:
		return StrategyAdaptive, nil
	}
	return "", fmt.Errorf("unknown reasoning strategy %q (want staged or adaptive)", s)
}

// Config bounds an orchestrated run.
type Config struct {
	Strategy    Strategy
	MaxAttempts int
	MaxSteps    int
}

// DefaultConfig returns the staged strategy with default ceilings.
func DefaultConfig() Config {
	return Config{
		Strategy:    StrategyStaged,
		MaxAttempts: DefaultMaxAttempts,
		MaxSteps:    DefaultMaxSteps,
	}
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyStaged
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxSteps < 1 {
		c.MaxSteps = DefaultMaxSteps
	}
	return c
}

// ============================================================================
// TYPES
// ============================================================================

// Request is one user prompt to reason about.
type Request struct {
	Prompt  string
	System  string              // base system prompt, prepended to every phase
	History []cloud.ChatMessage // prior turns, role and content only
}

// ChunkKind classifies yielded output.
type ChunkKind int

const (
	ChunkPreamble ChunkKind = iota
	ChunkBoundary
	ChunkText
	ChunkNotice
	ChunkAborted
	ChunkError
)

// Chunk is one piece of yielded output. Concatenating every chunk's Text in
// order produces the stored message content.
type Chunk struct {
	Kind  ChunkKind
	Phase Phase
	Text  string
}

// Emit receives chunks in order, on the goroutine that called Run.
type Emit func(Chunk)

// Outcome summarizes a finished run.
type Outcome struct {
	Phases       []PhaseResult
	Final        string // SUMMARIZE text, empty if the run ended early
	Aborted      bool
	LimitReached bool
	Err          error
}

// ============================================================================
// ORCHESTRATOR
// ============================================================================

// Orchestrator drives the multi-phase pipeline. It is safe to share between
// turns; each Run keeps its own state.
type Orchestrator struct {
	llm       LLM
	cfg       Config
	fallbacks atomic.Int64
}

// New creates an orchestrator.
func New(llm LLM, cfg Config) *Orchestrator {
	return &Orchestrator{llm: llm, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// VerdictFallbacks counts review/critique replies that carried no verdict
// token and were treated as acceptable.
func (o *Orchestrator) VerdictFallbacks() int64 {
	return o.fallbacks.Load()
}

// Run executes the pipeline, pushing chunks to emit as they are produced.
// Errors and cancellation end the run with a marker chunk; they are reported
// in the Outcome, never returned.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Emit) Outcome {
	if emit == nil {
		emit = func(Chunk) {}
	}
	r := &run{o: o, ctx: ctx, req: req, emit: emit}

	emit(Chunk{Kind: ChunkPreamble, Text: Preamble})

	var err error
	switch o.cfg.Strategy {
	case StrategyAdaptive:
		err = r.adaptive()
	default:
		err = r.staged()
	}
	if err != nil {
		r.fail(err)
	}

	log.Debug().
		Str("component", "orchestrator").
		Str("strategy", string(o.cfg.Strategy)).
		Int("phases", len(r.out.Phases)).
		Bool("aborted", r.out.Aborted).
		Bool("limit_reached", r.out.LimitReached).
		Msg("reasoning run finished")
	return r.out
}

// Stream runs the pipeline on a new goroutine and delivers chunks on the
// returned channel, which is closed when the run ends. The caller must drain
// the channel.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Chunk {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		o.Run(ctx, req, func(c Chunk) { ch <- c })
	}()
	return ch
}

// ============================================================================
// RUN STATE
// ============================================================================

type run struct {
	o    *Orchestrator
	ctx  context.Context
	req  Request
	emit Emit
	out  Outcome
}

func (r *run) staged() error {
	if _, _, err := r.phase(PhaseGather, 1, ""); err != nil {
		return err
	}
	if _, _, err := r.phase(PhaseAnalyze, 1, ""); err != nil {
		return err
	}

	feedback := ""
	for attempt := 1; ; attempt++ {
		if _, _, err := r.phase(PhaseSolve, attempt, feedback); err != nil {
			return err
		}
		text, _, err := r.phase(PhaseReview, attempt, "")
		if err != nil {
			return err
		}
		v := r.verdict(ParseReviewVerdict(text))
		if v.Acceptable {
			break
		}
		if attempt >= r.o.cfg.MaxAttempts {
			r.limit(attempt, "attempts")
			break
		}
		feedback = v.Feedback
	}

	return r.summarize()
}

func (r *run) adaptive() error {
	feedback := ""
	for step := 1; ; step++ {
		stepText, complete, err := r.phase(PhaseStep, step, feedback)
		if err != nil {
			return err
		}
		if complete && stepText == "" {
			// A bare completion marker has nothing left to critique.
			break
		}
		text, _, err := r.phase(PhaseCritique, step, "")
		if err != nil {
			return err
		}
		v := r.verdict(ParseCritiqueVerdict(text))

		if !v.Acceptable {
			if step >= r.o.cfg.MaxSteps {
				r.limit(step, "steps")
				break
			}
			_, corrected, err := r.phase(PhaseCorrect, step, "")
			if err != nil {
				return err
			}
			if complete || corrected {
				break
			}
			feedback = v.Feedback
			continue
		}

		feedback = ""
		if complete {
			break
		}
		if step >= r.o.cfg.MaxSteps {
			r.limit(step, "steps")
			break
		}
	}

	return r.summarize()
}

func (r *run) summarize() error {
	text, _, err := r.phase(PhaseSummarize, 1, "")
	if err != nil {
		return err
	}
	r.out.Final = text
	return nil
}

// phase runs one streamed model call. STEP and CORRECT output passes through
// the completion-marker filter; complete reports whether the marker was seen.
// A reply that is only the marker returns empty text and records no result.
func (r *run) phase(p Phase, attempt int, feedback string) (text string, complete bool, err error) {
	if err := r.ctx.Err(); err != nil {
		return "", false, &cloud.Error{Kind: cloud.KindAborted, Message: "canceled before " + string(p), Cause: err}
	}

	boundary := PhaseMarker(p)
	if p == PhaseSummarize {
		boundary = TraceClose
	}
	r.emit(Chunk{Kind: ChunkBoundary, Phase: p, Text: boundary})

	out := func(s string) { r.emit(Chunk{Kind: ChunkText, Phase: p, Text: s}) }
	var filter *markerFilter
	if p == PhaseStep || p == PhaseCorrect {
		filter = newMarkerFilter(CompletionMarker, out)
	}

	var sb strings.Builder
	msgs := phaseMessages(phaseInput{
		phase:    p,
		attempt:  attempt,
		req:      r.req,
		work:     r.out.Phases,
		feedback: feedback,
	})
	err = r.o.llm.StreamFunc(r.ctx, msgs, func(d cloud.Delta) {
		if d.Kind != cloud.DeltaContent {
			return
		}
		sb.WriteString(d.Text)
		if filter != nil {
			filter.Write(d.Text)
		} else {
			out(d.Text)
		}
	})
	if filter != nil {
		filter.Close()
	}
	if err != nil {
		return "", false, err
	}

	text = sb.String()
	if filter != nil {
		text, complete = stripCompletion(text)
	}
	if strings.TrimSpace(text) == "" {
		if complete {
			return "", true, nil
		}
		return "", false, cloud.NewMalformedError("%s phase returned no text", p)
	}

	r.out.Phases = append(r.out.Phases, PhaseResult{Phase: p, Attempt: attempt, Text: text})
	return text, complete, nil
}

// verdict records v on the latest phase result and counts missing tokens.
func (r *run) verdict(v Verdict) Verdict {
	last := &r.out.Phases[len(r.out.Phases)-1]
	last.Verdict = &v
	if !v.Found {
		n := r.o.fallbacks.Add(1)
		log.Warn().
			Str("component", "orchestrator").
			Str("phase", string(last.Phase)).
			Int64("fallbacks", n).
			Msg("no verdict token in reply, treating as acceptable")
	}
	return v
}

func (r *run) limit(n int, unit string) {
	r.out.LimitReached = true
	r.emit(Chunk{Kind: ChunkNotice, Text: RetryLimitMarker(n, unit)})
	log.Info().Str("component", "orchestrator").Int(unit, n).Msg("retry ceiling reached, summarizing")
}

func (r *run) fail(err error) {
	if cloud.IsAborted(err) || r.ctx.Err() != nil {
		r.out.Aborted = true
		r.emit(Chunk{Kind: ChunkAborted, Text: AbortedMarker})
		return
	}
	r.out.Err = err
	r.emit(Chunk{Kind: ChunkError, Text: ErrorMarker(errorText(err))})
	log.Warn().Err(err).Str("component", "orchestrator").Msg("reasoning run failed")
}

// errorText prefers the server or decoder message over the wrapped form.
func errorText(err error) string {
	var ce *cloud.Error
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return err.Error()
}
