// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Interactive Commands (during chat):
//   /reason <msg>       Answer with the multi-phase reasoning pipeline
//   /simple <msg>       Answer with a single streamed call
//   /auto on|off        Let the classifier pick the path per message
//   /new                Start a new conversation
//   /open <id>          Continue a saved conversation (id prefix is enough)
//   /history            List saved conversations
//   /memory             Show remembered facts
//   /forget             Clear remembered facts
//   /help               Show available commands
//   /quit               Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/thinkchat/internal/config"
	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/storage"
	"github.com/jeranaias/thinkchat/internal/turn"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader is the part of liner the REPL uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// historyLiner wraps liner with a history file in the config directory.
// USABILITY: Supports arrow keys for history navigation and line editing.
type historyLiner struct {
	*liner.State
	path string
}

func newHistoryLiner() *historyLiner {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	h := &historyLiner{State: line, path: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(h.path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return h
}

// Close saves history and restores the terminal.
func (h *historyLiner) Close() error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0700); err == nil {
		if f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			h.WriteHistory(f)
			f.Close()
		}
	}
	return h.State.Close()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// command is a parsed REPL line.
type command struct {
	name string // "" for a plain message
	arg  string
}

// parseCommand splits "/name rest" lines. Anything else is a message.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{arg: line}
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

const chatHelp = `Commands:
  /reason <msg>   answer with step-by-step reasoning
  /simple <msg>   answer with a single call
  /auto on|off    let the classifier decide per message
  /new            start a new conversation
  /open <id>      continue a saved conversation
  /history        list saved conversations
  /memory         show remembered facts
  /forget         clear remembered facts
  /help           show this help
  /quit           exit

Ctrl+C cancels a reply in progress. Ctrl+D exits.`

// =============================================================================
// CHAT SESSION
// =============================================================================

type chatSession struct {
	app    *App
	in     lineReader
	out    io.Writer
	render *Renderer
	view   *streamView
}

func newChatSession(app *App, in lineReader) *chatSession {
	s := &chatSession{
		app:    app,
		in:     in,
		out:    app.Out,
		render: NewRenderer(app.Out, app.Settings.Current().UI),
	}
	app.Controller.OnUpdate(func(m model.Message) {
		if s.view == nil || m.Role != model.RoleAssistant {
			return
		}
		if m.Complete {
			s.view.Finish(m)
			s.view = nil
			return
		}
		s.view.Update(m)
	})
	return s
}

// RunChat runs the REPL until the user quits. The config watcher runs
// alongside it so edits to the config file apply from the next turn.
func RunChat(ctx context.Context, app *App) error {
	in := newHistoryLiner()
	defer in.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	g, gctx := errgroup.WithContext(ctx)
	if app.Watcher != nil {
		g.Go(func() error {
			if err := app.Watcher.Run(gctx); err != nil {
				log.Warn().Err(err).Str("component", "cli").Msg("config hot reload disabled")
			}
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigs:
				if app.Controller.Busy() {
					app.Controller.Cancel()
					continue
				}
				if sig == syscall.SIGTERM {
					cancel()
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		return newChatSession(app, in).loop(gctx)
	})
	return g.Wait()
}

func (s *chatSession) loop(ctx context.Context) error {
	s.printWelcome()
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := s.in.Prompt("thinkchat> ")
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D and closed input all end the session.
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Fprintln(s.out)
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.in.AppendHistory(line)

		if quit := s.handle(ctx, parseCommand(line)); quit {
			return nil
		}
	}
}

// handle runs one REPL line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, cmd command) bool {
	switch cmd.name {
	case "":
		s.send(ctx, cmd.arg, turn.Options{})
	case "reason":
		s.send(ctx, cmd.arg, turn.Options{Reasoning: turn.Bool(true)})
	case "simple":
		s.send(ctx, cmd.arg, turn.Options{Reasoning: turn.Bool(false)})
	case "auto":
		s.setAuto(cmd.arg)
	case "new", "clear":
		if err := s.app.Controller.Reset(); err != nil {
			s.printErr(err)
			return false
		}
		fmt.Fprintln(s.out, DimStyle.Render("Started a new conversation."))
	case "open":
		s.open(ctx, cmd.arg)
	case "history":
		metas, err := s.app.Store.Index(ctx)
		if err != nil {
			s.printErr(err)
			return false
		}
		fmt.Fprint(s.out, storage.FormatList(metas))
	case "memory":
		s.showMemory(ctx)
	case "forget":
		if err := s.app.Memory.Store().Clear(ctx); err != nil {
			s.printErr(err)
			return false
		}
		fmt.Fprintln(s.out, DimStyle.Render("Memory cleared."))
	case "help", "h", "?":
		fmt.Fprintln(s.out, chatHelp)
	case "quit", "q", "exit":
		return true
	default:
		s.printErr(fmt.Errorf("unknown command /%s (try /help)", cmd.name))
	}
	return false
}

func (s *chatSession) send(ctx context.Context, input string, opts turn.Options) {
	if strings.TrimSpace(input) == "" {
		s.printErr(errors.New("nothing to send"))
		return
	}
	s.view = s.render.newStream()
	if _, err := s.app.Controller.Submit(ctx, input, opts); err != nil {
		s.view = nil
		s.printErr(err)
	}
}

func (s *chatSession) setAuto(arg string) {
	switch strings.ToLower(arg) {
	case "on", "true", "1":
		s.app.session.SetAuto(true)
	case "off", "false", "0":
		s.app.session.SetAuto(false)
	case "":
	default:
		s.printErr(fmt.Errorf("usage: /auto on|off"))
		return
	}
	state := "off"
	if s.app.session.Auto() {
		state = "on"
	}
	fmt.Fprintln(s.out, DimStyle.Render("Automatic reasoning is "+state+"."))
}

func (s *chatSession) open(ctx context.Context, prefix string) {
	if prefix == "" {
		s.printErr(errors.New("usage: /open <id>"))
		return
	}
	id, err := storage.ResolveID(ctx, s.app.Store, prefix)
	if err != nil {
		s.printErr(err)
		return
	}
	conv, err := s.app.Store.Get(ctx, id)
	if err != nil {
		s.printErr(err)
		return
	}
	if err := s.app.Controller.Load(conv); err != nil {
		s.printErr(err)
		return
	}
	s.render.RenderConversation(conv)
}

func (s *chatSession) showMemory(ctx context.Context) {
	facts, err := s.app.Memory.Store().Facts(ctx)
	if err != nil {
		s.printErr(err)
		return
	}
	if !s.app.Settings.Current().Memory.Enabled {
		fmt.Fprintln(s.out, DimStyle.Render("Memory is disabled (memory.enabled = false)."))
	}
	if len(facts) == 0 {
		fmt.Fprintln(s.out, "Nothing remembered yet.")
		return
	}
	for _, f := range facts {
		fmt.Fprintf(s.out, "- %s\n", f.Text)
	}
}

func (s *chatSession) printWelcome() {
	cfg := s.app.Settings.Current()
	fmt.Fprintln(s.out, TitleStyle.Render("thinkchat"))
	fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("model %s  reasoning %s  auto %t  /help for commands",
		cfg.API.Model, cfg.Reasoning.Strategy, cfg.Reasoning.Auto)))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printErr(err error) {
	fmt.Fprintln(s.out, ErrorStyle.Render("[Error]")+" "+err.Error())
}
