// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration commands.
//
// Examples:
//   thinkchat config show
//   thinkchat config path
//   thinkchat config init
//   thinkchat config init --force

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/thinkchat/internal/config"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}
	cmd.AddCommand(
		newConfigShowCommand(root),
		newConfigPathCommand(root),
		newConfigInitCommand(root),
	)
	return cmd
}

func newConfigShowCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			text := cfg.String()
			out := cmd.OutOrStdout()
			if isTerminalWriter(out) && ColorsEnabled() {
				text = Highlight(text, "toml")
			}
			fmt.Fprint(out, text)
			return nil
		},
	}
}

func newConfigPathCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := root.resolveConfigPath()
			if err != nil {
				return err
			}
			note := ""
			if _, err := os.Stat(path); err != nil {
				note = DimStyle.Render("  (not created; defaults in use)")
			}
			fmt.Fprintln(cmd.OutOrStdout(), path+note)
			return nil
		},
	}
}

func newConfigInitCommand(root *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := root.resolveConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Wrote")+" "+path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
