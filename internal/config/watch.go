// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// =============================================================================
// SETTINGS PROVIDER
// =============================================================================

// Provider hands out the settings snapshot for a turn. Implementations must
// be safe for concurrent use; callers must not mutate the returned Config.
type Provider interface {
	Current() *Config
}

// Static is a Provider that never changes.
type Static struct {
	cfg *Config
}

// NewStatic wraps cfg. A nil cfg means Default().
func NewStatic(cfg *Config) *Static {
	if cfg == nil {
		cfg = Default()
	}
	return &Static{cfg: cfg}
}

// Current returns the wrapped config.
func (s *Static) Current() *Config {
	return s.cfg
}

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// DefaultDebounce is how long the watcher waits after the last file event
// before reloading.
const DefaultDebounce = 150 * time.Millisecond

// Watcher is a Provider that reloads the config file when it changes on
// disk. A reload that fails to parse or validate keeps the previous config.
type Watcher struct {
	path     string
	debounce time.Duration
	current  atomic.Pointer[Config]

	mu       sync.Mutex
	onChange []func(*Config)
}

// NewWatcher creates a watcher for path, starting from initial.
func NewWatcher(path string, initial *Config) *Watcher {
	if initial == nil {
		initial = Default()
	}
	w := &Watcher{path: path, debounce: DefaultDebounce}
	w.current.Store(initial)
	return w
}

// Current returns the latest successfully loaded config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnChange registers fn to run after each successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Run watches the config directory until ctx is done. The directory is
// watched rather than the file because editors replace files by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	name := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.Reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("component", "config").Msg("watch error")
		}
	}
}

// Reload re-reads the file now. It reports whether the config was replaced.
func (w *Watcher) Reload() bool {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		log.Warn().Err(err).Str("component", "config").Str("path", w.path).Msg("reload failed, keeping previous config")
		return false
	}
	w.current.Store(cfg)
	log.Info().Str("component", "config").Str("path", w.path).Msg("config reloaded")

	w.mu.Lock()
	fns := append([]func(*Config){}, w.onChange...)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(cfg)
	}
	return true
}
