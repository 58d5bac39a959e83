// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Examples:
//   thinkchat ask "What is the capital of France?"
//   thinkchat ask --reason "Compare two itineraries for Kyoto"
//   echo "Summarize this" | thinkchat ask

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/turn"
)

// maxStdinPrompt caps a prompt read from a pipe.
const maxStdinPrompt = 1 << 20

type askOptions struct {
	reason   bool
	noReason bool
	raw      bool
}

func (o askOptions) turnOptions() (turn.Options, error) {
	switch {
	case o.reason && o.noReason:
		return turn.Options{}, errors.New("--reason and --no-reason are mutually exclusive")
	case o.reason:
		return turn.Options{Reasoning: turn.Bool(true)}, nil
	case o.noReason:
		return turn.Options{Reasoning: turn.Bool(false)}, nil
	}
	return turn.Options{}, nil
}

func newAskCommand(root *rootOptions) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question and print the answer",
		Long: `Ask a single question and print the answer.

The prompt is taken from the arguments, or from stdin when no arguments are
given. The exchange is saved to history like any chat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			turnOpts, err := opts.turnOptions()
			if err != nil {
				return err
			}
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			app, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runAsk(ctx, app, prompt, turnOpts, opts.raw)
		},
	}
	cmd.Flags().BoolVar(&opts.reason, "reason", false, "force the multi-phase reasoning pipeline")
	cmd.Flags().BoolVar(&opts.noReason, "no-reason", false, "force a single streamed call")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print plain text without markdown rendering")
	return cmd
}

// readPrompt joins the arguments, or reads stdin when there are none.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok && isTerminalWriter(f) {
		return "", errors.New("no prompt given")
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxStdinPrompt))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("no prompt given")
	}
	return prompt, nil
}

// runAsk submits one turn, streaming it to app.Out. A failed or canceled
// turn still prints its annotated reply; the error return reflects it so
// scripts can check the exit status.
func runAsk(ctx context.Context, app *App, prompt string, opts turn.Options, raw bool) error {
	ui := app.Settings.Current().UI
	if raw {
		ui.Markdown = false
	}
	view := NewRenderer(app.Out, ui).newStream()
	app.Controller.OnUpdate(func(m model.Message) {
		if m.Role != model.RoleAssistant {
			return
		}
		if m.Complete {
			view.Finish(m)
			return
		}
		view.Update(m)
	})

	msg, err := app.Controller.Submit(ctx, prompt, opts)
	if err != nil {
		return err
	}
	if msg.Error {
		if msg.ErrorDetails != nil {
			return fmt.Errorf("%s error: %s", msg.ErrorDetails.Kind, msg.ErrorDetails.Message)
		}
		return errors.New("request failed")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
