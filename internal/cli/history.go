// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Saved conversation commands.
//
// Examples:
//   thinkchat history list
//   thinkchat history list --search kyoto
//   thinkchat history show 3f2a
//   thinkchat history export 3f2a --format yaml -o trip.yaml
//   thinkchat history delete 3f2a

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/thinkchat/internal/storage"
	"github.com/jeranaias/thinkchat/internal/util"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "List, show, export and delete saved conversations",
	}
	cmd.AddCommand(
		newHistoryListCommand(root),
		newHistoryShowCommand(root),
		newHistoryDeleteCommand(root),
		newHistoryExportCommand(root),
	)
	return cmd
}

func newHistoryListCommand(root *rootOptions) *cobra.Command {
	var search string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			metas, err := app.Store.Search(cmd.Context(), search)
			if err != nil {
				return err
			}
			if limit > 0 && len(metas) > limit {
				metas = metas[:limit]
			}
			fmt.Fprint(app.Out, storage.FormatList(metas))
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only conversations whose title or messages contain this text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many conversations")
	return cmd
}

func newHistoryShowCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := storage.ResolveID(cmd.Context(), app.Store, args[0])
			if err != nil {
				return err
			}
			conv, err := app.Store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			NewRenderer(app.Out, app.Settings.Current().UI).RenderConversation(conv)
			return nil
		},
	}
}

func newHistoryDeleteCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := storage.ResolveID(cmd.Context(), app.Store, args[0])
			if err != nil {
				return err
			}
			if err := app.Store.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, SuccessStyle.Render("Deleted")+" "+id)
			return nil
		},
	}
}

func newHistoryExportCommand(root *rootOptions) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as markdown, json or yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := storage.ResolveID(cmd.Context(), app.Store, args[0])
			if err != nil {
				return err
			}
			conv, err := app.Store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			data, err := storage.Export(conv, format)
			if err != nil {
				return err
			}

			if output != "" {
				// RELIABILITY: Atomic write so a failed export never truncates an existing file
				if err := util.AtomicWriteFile(output, data); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintln(app.Err, SuccessStyle.Render("Exported")+" "+output)
				return nil
			}

			text := string(data)
			if isTerminalWriter(app.Out) && ColorsEnabled() {
				text = Highlight(text, highlightLanguage(format))
			}
			fmt.Fprint(app.Out, text)
			if !strings.HasSuffix(text, "\n") {
				fmt.Fprintln(app.Out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", storage.FormatMarkdown, "markdown, json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

// highlightLanguage maps an export format to a chroma lexer name.
func highlightLanguage(format string) string {
	switch strings.ToLower(format) {
	case storage.FormatJSON:
		return "json"
	case storage.FormatYAML, "yml":
		return "yaml"
	}
	return "markdown"
}
