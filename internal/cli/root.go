// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the thinkchat command line: the interactive chat
// REPL, one-shot ask, saved history and config management.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/thinkchat/internal/config"
	"github.com/jeranaias/thinkchat/internal/turn"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// rootOptions carries the persistent flags to subcommands.
type rootOptions struct {
	configPath string
	logLevel   string
	factory    turn.LLMFactory
}

func (o *rootOptions) open(cmd *cobra.Command) (*App, error) {
	return OpenApp(Options{
		ConfigPath: o.configPath,
		LogLevel:   o.logLevel,
		Factory:    o.factory,
		Out:        cmd.OutOrStdout(),
		Err:        cmd.ErrOrStderr(),
	})
}

func (o *rootOptions) resolveConfigPath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.ActivePath()
}

// NewRootCommand builds the thinkchat command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	chat := newChatCommand(opts)
	root := &cobra.Command{
		Use:   "thinkchat",
		Short: "Terminal chat with optional multi-phase reasoning",
		Long: `thinkchat is a terminal chat client for OpenAI-compatible completion
endpoints. Messages that need careful thought can be answered by a
multi-phase reasoning pipeline (gather, analyze, solve, review, summarize);
a classifier decides per message unless told otherwise.

Run without a subcommand to start chatting.`,
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          chat.RunE,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.thinkchat/config.toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error, disabled)")

	root.AddCommand(
		chat,
		newAskCommand(opts),
		newHistoryCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			return RunChat(cmd.Context(), app)
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:")+" "+err.Error())
		return 1
	}
	return 0
}
