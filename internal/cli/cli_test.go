// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jeranaias/thinkchat/internal/cloud"
	"github.com/jeranaias/thinkchat/internal/config"
	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/reasoning"
	"github.com/jeranaias/thinkchat/internal/storage"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// scriptedLLM streams a fixed reply and answers side calls by prompt.
type scriptedLLM struct {
	mu        sync.Mutex
	reply     string
	streamErr error
	streams   int
}

func (s *scriptedLLM) Complete(ctx context.Context, msgs []cloud.ChatMessage) (string, error) {
	sys := ""
	if len(msgs) > 0 {
		sys = msgs[0].Content
	}
	switch {
	case strings.HasPrefix(sys, "You name chat conversations"):
		return "Greeting Chat", nil
	case strings.HasPrefix(sys, "You decide whether"):
		return "Decision: false", nil
	}
	return "[]", nil
}

func (s *scriptedLLM) StreamFunc(ctx context.Context, msgs []cloud.ChatMessage, fn func(cloud.Delta)) error {
	s.mu.Lock()
	s.streams++
	reply, err := s.reply, s.streamErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	fn(cloud.Delta{Kind: cloud.DeltaContent, Text: reply})
	return nil
}

func (s *scriptedLLM) factory(*config.Config) reasoning.LLM { return s }

// scriptedInput feeds REPL lines, then reports EOF.
type scriptedInput struct {
	lines   []string
	history []string
}

func (s *scriptedInput) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) AppendHistory(item string) { s.history = append(s.history, item) }
func (s *scriptedInput) Close() error             { return nil }

// runCLI executes one command line against a fresh command tree.
func runCLI(t *testing.T, llm *scriptedLLM, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(&rootOptions{factory: llm.factory})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("THINKCHAT_HOME", home)
	return home
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArg  string
	}{
		{"hello there", "", "hello there"},
		{"  /reason plan a trip  ", "reason", "plan a trip"},
		{"/AUTO off", "auto", "off"},
		{"/new", "new", ""},
		{"/open 3f2a", "open", "3f2a"},
	}
	for _, tt := range tests {
		got := parseCommand(tt.line)
		if got.name != tt.wantName || got.arg != tt.wantArg {
			t.Errorf("parseCommand(%q) = {%q %q}, want {%q %q}", tt.line, got.name, got.arg, tt.wantName, tt.wantArg)
		}
	}
}

func TestAskOptions(t *testing.T) {
	opts, err := askOptions{}.turnOptions()
	if err != nil || opts.Reasoning != nil {
		t.Errorf("default options = %+v, %v; want nil override", opts, err)
	}
	opts, _ = askOptions{reason: true}.turnOptions()
	if opts.Reasoning == nil || !*opts.Reasoning {
		t.Error("--reason should force reasoning")
	}
	opts, _ = askOptions{noReason: true}.turnOptions()
	if opts.Reasoning == nil || *opts.Reasoning {
		t.Error("--no-reason should force a single call")
	}
	if _, err := (askOptions{reason: true, noReason: true}).turnOptions(); err == nil {
		t.Error("conflicting flags should fail")
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt([]string{"what", "is", "2+2"}, strings.NewReader("ignored"))
	if err != nil || got != "what is 2+2" {
		t.Errorf("readPrompt(args) = %q, %v", got, err)
	}
	got, err = readPrompt(nil, strings.NewReader("  from a pipe\n"))
	if err != nil || got != "from a pipe" {
		t.Errorf("readPrompt(stdin) = %q, %v", got, err)
	}
	if _, err := readPrompt(nil, strings.NewReader("   ")); err == nil {
		t.Error("blank stdin should be an error")
	}
}

// =============================================================================
// SESSION SETTINGS
// =============================================================================

func TestSessionSettings(t *testing.T) {
	base := config.Default()
	base.Reasoning.Auto = true
	s := newSessionSettings(config.NewStatic(base))

	if s.Current() != base {
		t.Fatal("without an override the base snapshot should pass through")
	}

	s.SetAuto(false)
	first := s.Current()
	if first == base || first.Reasoning.Auto {
		t.Fatal("override should yield a separate snapshot with auto off")
	}
	if s.Current() != first {
		t.Error("snapshot should be stable while nothing changes")
	}
	if !base.Reasoning.Auto {
		t.Error("base config must not be modified")
	}
	if s.Auto() {
		t.Error("Auto() should report the override")
	}

	s.SetAuto(true)
	if s.Current() != base {
		t.Error("override equal to the base value should pass the base through")
	}
}

// =============================================================================
// RENDERING
// =============================================================================

func TestStreamView_OrchestratedTrace(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, config.UIConfig{ShowReasoning: true, Markdown: true})
	v := r.newStream()

	m := model.Message{Role: model.RoleAssistant}
	m.Content = reasoning.Preamble
	v.Update(m)
	m.Content += reasoning.PhaseMarker(reasoning.PhaseGather) + "facts"
	v.Update(m)
	m.Content += reasoning.TraceClose
	v.Update(m)
	m.Content += "Final answer."
	m.Complete = true
	v.Finish(m)

	out := buf.String()
	if strings.Contains(out, "<reasoning>") {
		t.Errorf("preamble tag should not be shown: %q", out)
	}
	if !strings.Contains(out, "GATHER") || !strings.Contains(out, "facts") {
		t.Errorf("trace should be streamed: %q", out)
	}
	if !strings.HasSuffix(out, "Final answer.\n\n") {
		t.Errorf("answer should end the output: %q", out)
	}
	if strings.Count(out, "facts") != 1 {
		t.Errorf("trace printed more than once: %q", out)
	}
}

func TestStreamView_HiddenReasoning(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, config.UIConfig{ShowReasoning: false})
	v := r.newStream()

	m := model.Message{Role: model.RoleAssistant, Reasoning: "thinking hard"}
	v.Update(m)
	m.Content = "4"
	m.Complete = true
	v.Finish(m)

	if got := buf.String(); got != "4\n\n" {
		t.Errorf("output = %q, want only the answer", got)
	}
}

func TestRenderMessage(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, config.UIConfig{ShowReasoning: true})

	m := model.NewAssistantMessage()
	m.Content = reasoning.Preamble + "step one" + reasoning.TraceClose + "Done."
	r.RenderMessage(m)
	r.RenderMessage(model.NewSystemMessage("hidden"))

	out := buf.String()
	for _, want := range []string{"Assistant (", "Reasoning", "step one", "Done."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("system messages should not be rendered")
	}
}

func TestDisplayRows(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  int
	}{
		{"short", 80, 1},
		{"a\nb\n", 80, 3},
		{strings.Repeat("x", 81), 80, 2},
		{strings.Repeat("漢", 50), 80, 2},
	}
	for _, tt := range tests {
		if got := displayRows(tt.text, tt.width); got != tt.want {
			t.Errorf("displayRows(%q, %d) = %d, want %d", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestHighlight(t *testing.T) {
	src := `{"title": "Kyoto"}`
	got := Highlight(src, "json")
	if !strings.Contains(got, "\x1b[") {
		t.Errorf("json should be colored: %q", got)
	}
	if Highlight(src, "no-such-language") != src {
		t.Error("unknown language should return input unchanged")
	}
	if highlightLanguage("yml") != "yaml" || highlightLanguage("md") != "markdown" {
		t.Error("highlightLanguage mapping wrong")
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestAskAndHistory(t *testing.T) {
	setHome(t)
	llm := &scriptedLLM{reply: "Hello there"}

	out, err := runCLI(t, llm, "ask", "--no-reason", "hi")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "Hello there") {
		t.Errorf("ask output = %q", out)
	}

	out, err = runCLI(t, llm, "history", "list")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "Greeting Chat") {
		t.Errorf("history list should show the generated title: %q", out)
	}

	store, err := storage.Open(config.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	metas, err := store.Index(context.Background())
	store.Close()
	if err != nil || len(metas) != 1 {
		t.Fatalf("Index() = %v, %v; want one conversation", metas, err)
	}
	prefix := metas[0].ID[:6]

	out, err = runCLI(t, llm, "history", "export", prefix, "--format", "json")
	if err != nil {
		t.Fatalf("history export: %v", err)
	}
	if !strings.Contains(out, `"title": "Greeting Chat"`) || !strings.Contains(out, "Hello there") {
		t.Errorf("export output = %q", out)
	}

	out, err = runCLI(t, llm, "history", "show", prefix)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	if !strings.Contains(out, "You (") || !strings.Contains(out, "Hello there") {
		t.Errorf("show output = %q", out)
	}

	if _, err := runCLI(t, llm, "history", "delete", prefix); err != nil {
		t.Fatalf("history delete: %v", err)
	}
	out, _ = runCLI(t, llm, "history", "list")
	if !strings.Contains(out, "No conversations found.") {
		t.Errorf("list after delete = %q", out)
	}
}

func TestAsk_FailureSetsError(t *testing.T) {
	setHome(t)
	llm := &scriptedLLM{streamErr: &cloud.Error{Kind: cloud.KindRemoteAPI, Status: 500, Message: "boom"}}

	out, err := runCLI(t, llm, "ask", "--no-reason", "hi")
	if err == nil {
		t.Fatal("failed turn should return an error")
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("annotated reply should still be printed: %q", out)
	}
}

func TestConfigCommands(t *testing.T) {
	home := setHome(t)
	llm := &scriptedLLM{}
	want := filepath.Join(home, "config.toml")

	out, err := runCLI(t, llm, "config", "path")
	if err != nil || !strings.Contains(out, want) || !strings.Contains(out, "not created") {
		t.Errorf("config path = %q, %v", out, err)
	}

	if _, err := runCLI(t, llm, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := runCLI(t, llm, "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := runCLI(t, llm, "config", "init", "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}

	out, err = runCLI(t, llm, "config", "show")
	if err != nil || !strings.Contains(out, "[api]") {
		t.Errorf("config show = %q, %v", out, err)
	}
}

func TestChatSession(t *testing.T) {
	setHome(t)
	llm := &scriptedLLM{reply: "Pong"}
	var out bytes.Buffer
	app, err := OpenApp(Options{Factory: llm.factory, Out: &out, Err: &out})
	if err != nil {
		t.Fatalf("OpenApp: %v", err)
	}
	defer app.Close()

	in := &scriptedInput{lines: []string{
		"/auto off",
		"ping",
		"/simple again",
		"/reason",
		"/history",
		"/memory",
		"/bogus",
		"/new",
		"/quit",
		"never read",
	}}
	s := newChatSession(app, in)
	if err := s.loop(context.Background()); err != nil {
		t.Fatalf("loop: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Automatic reasoning is off.",
		"Pong",
		"nothing to send",
		"Greeting Chat",
		"Nothing remembered yet.",
		"unknown command /bogus",
		"Started a new conversation.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("chat output missing %q:\n%s", want, got)
		}
	}
	if len(in.lines) != 1 {
		t.Errorf("/quit should stop reading input, %d lines left", len(in.lines))
	}
	if llm.streams != 2 {
		t.Errorf("streams = %d, want 2", llm.streams)
	}
	if app.Controller.Conversation() != nil {
		t.Error("/new should clear the conversation")
	}
}

func TestChatSession_Open(t *testing.T) {
	setHome(t)
	llm := &scriptedLLM{reply: "Stored reply"}
	if _, err := runCLI(t, llm, "ask", "first question"); err != nil {
		t.Fatalf("ask: %v", err)
	}

	var out bytes.Buffer
	app, err := OpenApp(Options{Factory: llm.factory, Out: &out, Err: &out})
	if err != nil {
		t.Fatalf("OpenApp: %v", err)
	}
	defer app.Close()
	metas, _ := app.Store.Index(context.Background())
	if len(metas) != 1 {
		t.Fatalf("want one stored conversation, got %d", len(metas))
	}

	s := newChatSession(app, &scriptedInput{lines: []string{"/open " + metas[0].ID[:8]}})
	if err := s.loop(context.Background()); err != nil {
		t.Fatalf("loop: %v", err)
	}
	if !strings.Contains(out.String(), "Stored reply") {
		t.Errorf("/open should replay the conversation:\n%s", out.String())
	}
	conv := app.Controller.Conversation()
	if conv == nil || conv.ID != metas[0].ID {
		t.Error("/open should load the conversation into the controller")
	}
}
