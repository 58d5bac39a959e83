// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/thinkchat/internal/cloud"
	"github.com/jeranaias/thinkchat/internal/config"
	"github.com/jeranaias/thinkchat/internal/logging"
	"github.com/jeranaias/thinkchat/internal/memory"
	"github.com/jeranaias/thinkchat/internal/reasoning"
	"github.com/jeranaias/thinkchat/internal/storage"
	"github.com/jeranaias/thinkchat/internal/turn"
)

// =============================================================================
// CLIENT FACTORY
// =============================================================================

// NewLLM builds a completion client from the current settings.
func NewLLM(cfg *config.Config) reasoning.LLM {
	return cloud.NewClient(cfg.API.Endpoint).
		WithModel(cfg.API.Model).
		WithParams(cfg.Generation).
		WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second).
		WithMaxRetries(cfg.API.MaxRetries).
		WithRateLimit(cfg.API.RateLimitRPS, cfg.API.RateBurst).
		WithFraming(cloud.ParseFraming(cfg.API.Framing))
}

// liveCompleter builds a client from the latest settings on every call, so
// background work follows config reloads the same way turns do.
type liveCompleter struct {
	settings config.Provider
	factory  turn.LLMFactory
}

func (l liveCompleter) Complete(ctx context.Context, msgs []cloud.ChatMessage) (string, error) {
	return l.factory(l.settings.Current()).Complete(ctx, msgs)
}

// =============================================================================
// APP
// =============================================================================

// App holds everything a command needs: settings, storage and the turn
// controller. Commands that only read config never open one.
type App struct {
	Settings   config.Provider
	Watcher    *config.Watcher
	Store      storage.Store
	Memory     *memory.Extractor
	Controller *turn.Controller
	Out        io.Writer
	Err        io.Writer

	session *sessionSettings
	logs    io.Closer
}

// Options configures OpenApp.
type Options struct {
	// ConfigPath overrides the default config file location.
	ConfigPath string
	// LogLevel overrides logging.level when set.
	LogLevel string
	// Factory builds clients; nil means NewLLM.
	Factory turn.LLMFactory
	Out     io.Writer
	Err     io.Writer
}

// LoadConfig loads settings from path, or from the default location when
// path is empty, and reports the path a watcher should follow.
func LoadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		return cfg, path, err
	}
	active, err := config.ActivePath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load()
	return cfg, active, err
}

// OpenApp loads settings, configures logging and opens storage.
func OpenApp(opts Options) (*App, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Factory == nil {
		opts.Factory = NewLLM
	}

	cfg, path, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logs, err := logging.SetupWriter(cfg.Logging, opts.Err)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	app := &App{Store: store, Out: opts.Out, Err: opts.Err, logs: logs}

	var base config.Provider = config.NewStatic(cfg)
	if _, statErr := os.Stat(path); statErr == nil {
		app.Watcher = config.NewWatcher(path, cfg)
		base = app.Watcher
	}
	app.session = newSessionSettings(base)
	app.Settings = app.session

	facts, err := openFacts(cfg, store)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Memory = memory.NewExtractor(liveCompleter{settings: app.Settings, factory: opts.Factory}, facts).
		WithTimeout(time.Duration(cfg.Memory.TimeoutSecs) * time.Second)

	app.Controller = turn.NewWithFactory(opts.Factory, app.Settings).
		WithStore(store).
		WithMemory(app.Memory)
	return app, nil
}

// openFacts reuses the SQLite database for facts when that backend is
// active, otherwise keeps them in memory.json next to the conversations.
func openFacts(cfg *config.Config, store storage.Store) (memory.Store, error) {
	if ms, ok := store.(memory.Store); ok {
		return ms, nil
	}
	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	return memory.NewFileStore(filepath.Join(dir, "memory.json"), cfg.Memory.MaxFacts), nil
}

// Close waits for background memory work, then releases storage and the
// log file.
func (a *App) Close() error {
	if a.Controller != nil {
		a.Controller.Wait()
	}
	var firstErr error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Error().Err(err).Str("component", "cli").Msg("failed to close storage")
			firstErr = err
		}
	}
	if a.logs != nil {
		a.logs.Close()
	}
	return firstErr
}
