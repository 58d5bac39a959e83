// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/thinkchat/internal/cloud"
	"github.com/jeranaias/thinkchat/internal/config"
	"github.com/jeranaias/thinkchat/internal/memory"
	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/prompt"
	"github.com/jeranaias/thinkchat/internal/reasoning"
	"github.com/jeranaias/thinkchat/internal/storage"
)

// Message modes recorded on assistant replies.
const (
	ModeSingle = "single"
)

const (
	persistTimeout = 10 * time.Second
	titleTimeout   = 20 * time.Second
)

var (
	// ErrTurnOpen is returned when a turn is already in progress.
	ErrTurnOpen = errors.New("a turn is already in progress")
	// ErrEmptyInput is returned for blank input.
	ErrEmptyInput = errors.New("input is empty")
)

// Options are per-message overrides.
type Options struct {
	// Reasoning forces the multi-phase path (true) or the single call
	// (false). Nil lets the classifier decide when auto mode is on.
	Reasoning *bool
}

// Bool returns a pointer to b, for Options.Reasoning.
func Bool(b bool) *bool { return &b }

// LLMFactory builds the model client for a settings snapshot.
type LLMFactory func(cfg *config.Config) reasoning.LLM

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller drives one conversation, one turn at a time. At most one
// assistant message is open at any moment; Submit rejects a second turn
// with ErrTurnOpen.
type Controller struct {
	settings config.Provider
	newLLM   LLMFactory
	store    storage.Store
	memory   *memory.Extractor
	titler   Titler
	now      func() time.Time

	mu        sync.Mutex
	conv      *model.Conversation
	open      bool
	cancel    context.CancelFunc
	observers []func(model.Message)

	// Per-settings components, rebuilt when Current() returns a new pointer.
	built      *config.Config
	llm        reasoning.LLM
	classifier *reasoning.Classifier
	orch       *reasoning.Orchestrator
	retired    int64 // verdict fallbacks from replaced orchestrators

	bg sync.WaitGroup
}

// New creates a controller that uses llm for every call.
func New(llm reasoning.LLM, settings config.Provider) *Controller {
	return NewWithFactory(func(*config.Config) reasoning.LLM { return llm }, settings)
}

// NewWithFactory creates a controller whose model client follows the
// settings: a new client is built whenever the settings change.
func NewWithFactory(factory LLMFactory, settings config.Provider) *Controller {
	if settings == nil {
		settings = config.NewStatic(nil)
	}
	return &Controller{
		settings: settings,
		newLLM:   factory,
		now:      time.Now,
	}
}

// WithStore persists the conversation after every turn.
func (c *Controller) WithStore(s storage.Store) *Controller {
	c.store = s
	return c
}

// WithMemory enables fact extraction and the memory system note. Extraction
// still only runs when memory.enabled is set.
func (c *Controller) WithMemory(ex *memory.Extractor) *Controller {
	c.memory = ex
	return c
}

// WithTitler sets how first turns are titled. The default asks the model.
func (c *Controller) WithTitler(t Titler) *Controller {
	c.titler = t
	return c
}

// WithClock replaces time.Now.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// OnUpdate registers fn to receive a copy of the assistant message after
// every change. fn runs on the submitting goroutine and must not call back
// into the controller.
func (c *Controller) OnUpdate(fn func(model.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Conversation returns a copy of the current conversation, or nil before the
// first turn.
func (c *Controller) Conversation() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return nil
	}
	return c.conv.Clone()
}

// Load replaces the current conversation with a copy of conv.
func (c *Controller) Load(conv *model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return ErrTurnOpen
	}
	if conv == nil {
		c.conv = nil
		return nil
	}
	c.conv = conv.Clone()
	// A message left open by a crash is closed so the invariant holds.
	if m := c.conv.OpenMessage(); m != nil {
		m.Finish(c.now())
	}
	return nil
}

// Reset starts a fresh conversation on the next Submit.
func (c *Controller) Reset() error {
	return c.Load(nil)
}

// Busy reports whether a turn is in progress.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Cancel aborts the turn in progress, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Wait blocks until background memory extraction has finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// VerdictFallbacks counts review/critique replies without a verdict token
// across every orchestrator this controller has used.
func (c *Controller) VerdictFallbacks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.retired
	if c.orch != nil {
		n += c.orch.VerdictFallbacks()
	}
	return n
}

// =============================================================================
// SUBMIT
// =============================================================================

// turnState is everything one Submit call owns.
type turnState struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Config
	convID   string
	input    string
	override *bool
	history  []cloud.ChatMessage
	msg      *model.Message
	llm      reasoning.LLM
	classify *reasoning.Classifier
	orch     *reasoning.Orchestrator
	aborted  bool
}

// Submit runs one turn to completion and returns the finished assistant
// message. Failures of the model call are recorded on the message, not
// returned; the error is only ErrTurnOpen or ErrEmptyInput.
func (c *Controller) Submit(ctx context.Context, input string, opts Options) (msg model.Message, err error) {
	input = norm.NFC.String(strings.TrimSpace(input))
	if input == "" {
		return model.Message{}, ErrEmptyInput
	}

	t, err := c.begin(ctx, input, opts)
	if err != nil {
		return model.Message{}, err
	}
	defer t.cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "turn").Interface("panic", r).Msg("turn panicked")
			c.mutate(t.msg, func(m *model.Message) {
				m.AppendNotice(annotation(m, fmt.Sprintf("\n\n[internal error: %v]", r)))
				m.Fail("internal", fmt.Sprint(r))
			})
		}
		msg = c.finish(t)
	}()

	c.run(t)
	return model.Message{}, nil
}

// begin enforces the one-open-turn rule and appends the user and open
// assistant messages. Settings are read here, once per turn.
func (c *Controller) begin(parent context.Context, input string, opts Options) (*turnState, error) {
	cfg := c.settings.Current()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil, ErrTurnOpen
	}

	c.rebuild(cfg)

	if c.conv == nil {
		c.conv = model.NewConversation()
	}
	if c.conv.Model == "" {
		c.conv.Model = cfg.API.Model
	}
	history := shapeHistory(c.conv.History())

	user := model.NewUserMessage(input)
	assistant := model.NewAssistantMessage()
	c.conv.AddMessage(user, assistant)

	ctx, cancel := context.WithCancel(parent)
	c.open = true
	c.cancel = cancel

	return &turnState{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		convID:   c.conv.ID,
		input:    input,
		override: opts.Reasoning,
		history:  history,
		msg:      assistant,
		llm:      c.llm,
		classify: c.classifier,
		orch:     c.orch,
	}, nil
}

// rebuild refreshes settings-derived components. Caller holds mu.
func (c *Controller) rebuild(cfg *config.Config) {
	if c.built == cfg && c.llm != nil {
		return
	}
	if c.orch != nil {
		c.retired += c.orch.VerdictFallbacks()
	}
	strategy, err := reasoning.ParseStrategy(cfg.Reasoning.Strategy)
	if err != nil {
		log.Warn().Err(err).Str("component", "turn").Msg("using staged strategy")
		strategy = reasoning.StrategyStaged
	}
	c.llm = c.newLLM(cfg)
	c.classifier = reasoning.NewClassifier(c.llm, cfg.Reasoning.ClassifierHistory)
	c.orch = reasoning.New(c.llm, reasoning.Config{
		Strategy:    strategy,
		MaxAttempts: cfg.Reasoning.MaxAttempts,
		MaxSteps:    cfg.Reasoning.MaxSteps,
	})
	c.built = cfg
}

// run picks the path and drives it. Errors become inline annotations.
func (c *Controller) run(t *turnState) {
	system := prompt.NewBuilder().Build(prompt.FromConfig(t.cfg, c.now()))
	note := c.memoryNote(t)
	c.observe(t)

	useReasoning := false
	switch {
	case t.ctx.Err() != nil:
	case t.override != nil:
		useReasoning = *t.override
	case t.cfg.Reasoning.Auto:
		useReasoning = t.classify.ShouldUseReasoning(t.ctx, t.input, t.history)
	}

	if err := t.ctx.Err(); err != nil {
		t.aborted = true
		c.mutate(t.msg, func(m *model.Message) { m.AppendNotice(annotation(m, reasoning.AbortedMarker)) })
		return
	}

	if useReasoning {
		c.runReasoning(t, system, note)
		return
	}
	c.runSingle(t, system, note)
}

func (c *Controller) runSingle(t *turnState, system, note string) {
	c.mutate(t.msg, func(m *model.Message) { m.Mode = ModeSingle })

	msgs := make([]cloud.ChatMessage, 0, len(t.history)+3)
	if system != "" {
		msgs = append(msgs, cloud.NewSystemMessage(system))
	}
	if note != "" {
		msgs = append(msgs, cloud.NewSystemMessage(note))
	}
	msgs = append(msgs, t.history...)
	msgs = append(msgs, cloud.NewUserMessage(t.input))

	err := t.llm.StreamFunc(t.ctx, msgs, func(d cloud.Delta) {
		now := c.now()
		c.mutate(t.msg, func(m *model.Message) {
			switch d.Kind {
			case cloud.DeltaReasoning:
				m.AppendReasoning(d.Text, now)
			case cloud.DeltaContent:
				m.AppendContent(d.Text, now)
			}
		})
	})
	if err == nil {
		return
	}

	if cloud.IsAborted(err) || t.ctx.Err() != nil {
		t.aborted = true
		c.mutate(t.msg, func(m *model.Message) { m.AppendNotice(annotation(m, reasoning.AbortedMarker)) })
		return
	}
	c.fail(t, err)
}

func (c *Controller) runReasoning(t *turnState, system, note string) {
	c.mutate(t.msg, func(m *model.Message) { m.Mode = string(t.orch.Config().Strategy) })

	if note != "" {
		system = strings.TrimSpace(system + "\n\n" + note)
	}
	out := t.orch.Run(t.ctx, reasoning.Request{
		Prompt:  t.input,
		System:  system,
		History: t.history,
	}, func(ch reasoning.Chunk) {
		now := c.now()
		c.mutate(t.msg, func(m *model.Message) {
			switch {
			case ch.Kind == reasoning.ChunkPreamble:
				m.MarkReasoningStart(now)
			case ch.Kind == reasoning.ChunkBoundary && ch.Phase == reasoning.PhaseSummarize:
				m.MarkReasoningEnd(now)
			}
			m.AppendNotice(ch.Text)
		})
	})

	t.aborted = out.Aborted
	if out.Err != nil {
		kind, text := describe(out.Err)
		c.mutate(t.msg, func(m *model.Message) { m.Fail(kind, text) })
	}
}

// fail records err inline as a bracketed annotation.
func (c *Controller) fail(t *turnState, err error) {
	kind, text := describe(err)
	log.Warn().Err(err).Str("component", "turn").Str("kind", kind).Msg("turn failed")
	c.mutate(t.msg, func(m *model.Message) {
		m.AppendNotice(annotation(m, ErrorAnnotation(kind, text)))
		m.Fail(kind, text)
	})
}

// finish closes the turn exactly once, titles a first turn and persists.
func (c *Controller) finish(t *turnState) model.Message {
	now := c.now()

	c.mu.Lock()
	t.msg.Finish(now)
	c.conv.Touch(now)
	needTitle := c.conv.Title == ""
	snapshot := c.conv.Clone()
	final := *t.msg.Clone()
	c.open = false
	c.cancel = nil
	c.mu.Unlock()

	c.notify(final)

	// The turn context may be canceled; finalization still runs.
	bgctx := context.WithoutCancel(t.ctx)

	if needTitle {
		title := c.title(bgctx, snapshot, t.aborted)
		c.mu.Lock()
		if c.conv != nil && c.conv.ID == snapshot.ID {
			c.conv.Title = title
		}
		c.mu.Unlock()
		snapshot.Title = title
	}

	if c.store != nil {
		ctx, cancel := context.WithTimeout(bgctx, persistTimeout)
		defer cancel()
		if err := c.store.Set(ctx, snapshot); err != nil {
			log.Error().Err(err).Str("component", "turn").Str("conversation", snapshot.ID).Msg("persist conversation failed")
		}
	}
	return final
}

func (c *Controller) title(ctx context.Context, conv *model.Conversation, aborted bool) string {
	var titler Titler = PreviewTitler{}
	if c.titler != nil {
		titler = c.titler
	} else if !aborted {
		titler = NewLLMTitler(c.currentLLM())
	}
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	title, err := titler.Title(ctx, conv.Messages)
	if err != nil || strings.TrimSpace(title) == "" {
		title, _ = PreviewTitler{}.Title(ctx, conv.Messages)
	}
	return title
}

func (c *Controller) currentLLM() reasoning.LLM {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.llm
}

// =============================================================================
// MEMORY
// =============================================================================

func (c *Controller) memoryNote(t *turnState) string {
	if c.memory == nil || !t.cfg.Memory.Enabled {
		return ""
	}
	note, err := c.memory.Note(t.ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "memory").Msg("read memory failed")
		return ""
	}
	return note
}

// observe starts fact extraction in the background. It outlives the turn's
// cancellation but not its timeout.
func (c *Controller) observe(t *turnState) {
	if c.memory == nil || !t.cfg.Memory.Enabled {
		return
	}
	timeout := time.Duration(t.cfg.Memory.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = memory.DefaultTimeout
	}
	ctx := context.WithoutCancel(t.ctx)
	source, input, history := t.convID, t.input, t.history

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := c.memory.Observe(ctx, source, input, history); err != nil {
			log.Warn().Err(err).Str("component", "memory").Msg("memory extraction failed")
		}
	}()
}

// =============================================================================
// HELPERS
// =============================================================================

// mutate applies fn to msg under the lock and notifies observers.
func (c *Controller) mutate(msg *model.Message, fn func(m *model.Message)) {
	snap := func() model.Message {
		c.mu.Lock()
		defer c.mu.Unlock()
		fn(msg)
		return *msg.Clone()
	}()
	c.notify(snap)
}

func (c *Controller) notify(m model.Message) {
	c.mu.Lock()
	obs := append([]func(model.Message){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range obs {
		fn(m)
	}
}

// shapeHistory converts stored messages to the outgoing form. Assistant
// replies lose their reasoning trace; only the final answer is resent.
func shapeHistory(msgs []*model.Message) []cloud.ChatMessage {
	out := make([]cloud.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if m.Role == model.RoleAssistant {
			content = reasoning.FinalAnswer(content)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, cloud.ChatMessage{Role: m.Role.String(), Content: content})
	}
	return out
}

// describe returns the error kind name and the message to show.
func describe(err error) (kind, text string) {
	kind = "unknown"
	if k := cloud.KindOf(err); k != cloud.KindUnknown {
		kind = k.String()
	}
	var ce *cloud.Error
	if errors.As(err, &ce) {
		return kind, ce.Error()
	}
	return kind, err.Error()
}

// ErrorAnnotation formats the inline error text appended to a reply.
func ErrorAnnotation(kind, text string) string {
	return fmt.Sprintf("\n\n[%s error: %s]", kind, text)
}

// annotation drops the leading blank line when the reply is still empty.
func annotation(m *model.Message, text string) string {
	if m.Content == "" {
		return strings.TrimLeft(text, "\n")
	}
	return text
}
