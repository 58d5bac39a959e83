// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for thinkchat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, versioned migration and validation.
//
// # Key Types
//
//   - Config: endpoint, generation parameters, reasoning, profile, memory,
//     storage, logging and UI settings
//   - Provider: per-turn settings snapshot (Static or the fsnotify Watcher)
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (THINKCHAT_*)
//   - $THINKCHAT_HOME/config.toml (default ~/.thinkchat)
//   - $THINKCHAT_HOME/config.json
//   - Built-in defaults
//
// Files written by older releases are upgraded in memory by Migrate before
// decoding; Save always writes the current version.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	w := config.NewWatcher(path, cfg)
//	go w.Run(ctx)
//	settings := w.Current()
package config
