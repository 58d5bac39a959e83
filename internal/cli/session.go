// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"sync"

	"github.com/jeranaias/thinkchat/internal/config"
)

// sessionSettings layers REPL-only toggles over the loaded settings. The
// derived snapshot is cached per base snapshot so the controller only
// rebuilds its components when something actually changed.
type sessionSettings struct {
	base config.Provider

	mu   sync.Mutex
	auto *bool
	src  *config.Config
	out  *config.Config
}

func newSessionSettings(base config.Provider) *sessionSettings {
	return &sessionSettings{base: base}
}

// Current implements config.Provider.
func (s *sessionSettings) Current() *config.Config {
	cfg := s.base.Current()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auto == nil || *s.auto == cfg.Reasoning.Auto {
		return cfg
	}
	if s.src != cfg || s.out == nil || s.out.Reasoning.Auto != *s.auto {
		clone := cfg.Clone()
		clone.Reasoning.Auto = *s.auto
		s.src, s.out = cfg, clone
	}
	return s.out
}

// SetAuto overrides reasoning.auto for the rest of the session.
func (s *sessionSettings) SetAuto(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auto = &on
}

// Auto reports the effective reasoning.auto value.
func (s *sessionSettings) Auto() bool {
	return s.Current().Reasoning.Auto
}
