// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt assembles the system prompt from ordered sections.
package prompt

import (
	"strings"
	"time"

	"github.com/jeranaias/thinkchat/internal/config"
)

// Input is everything a section may read.
type Input struct {
	SystemPrompt string
	Profile      config.ProfileConfig
	Now          time.Time
}

// Section renders one part of the system prompt when its predicate holds.
type Section struct {
	Name   string
	When   func(Input) bool
	Render func(Input) string
}

// Builder joins sections in order with blank lines between them.
type Builder struct {
	sections []Section
}

// NewBuilder returns a builder with the given sections, or the default set
// when none are passed.
func NewBuilder(sections ...Section) *Builder {
	if len(sections) == 0 {
		sections = DefaultSections()
	}
	return &Builder{sections: sections}
}

// Build renders every section whose predicate is true. Sections that render
// to whitespace are skipped.
func (b *Builder) Build(in Input) string {
	parts := make([]string, 0, len(b.sections))
	for _, s := range b.sections {
		if s.When != nil && !s.When(in) {
			continue
		}
		text := strings.TrimSpace(s.Render(in))
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

// FromConfig builds an Input from the current settings.
func FromConfig(cfg *config.Config, now time.Time) Input {
	return Input{
		SystemPrompt: cfg.SystemPrompt,
		Profile:      cfg.Profile,
		Now:          now,
	}
}

func nonEmpty(s string) bool { return strings.TrimSpace(s) != "" }

// DefaultSections returns, in order: base prompt, current date, user name,
// occupation and custom instructions.
func DefaultSections() []Section {
	return []Section{
		{
			Name:   "base",
			When:   func(in Input) bool { return nonEmpty(in.SystemPrompt) },
			Render: func(in Input) string { return in.SystemPrompt },
		},
		{
			Name: "date",
			When: func(in Input) bool { return !in.Now.IsZero() },
			Render: func(in Input) string {
				return "Current date: " + in.Now.Format("Monday, January 2, 2006")
			},
		},
		{
			Name:   "name",
			When:   func(in Input) bool { return nonEmpty(in.Profile.Name) },
			Render: func(in Input) string { return "The user's name is " + strings.TrimSpace(in.Profile.Name) + "." },
		},
		{
			Name:   "occupation",
			When:   func(in Input) bool { return nonEmpty(in.Profile.Occupation) },
			Render: func(in Input) string { return "The user works as: " + strings.TrimSpace(in.Profile.Occupation) + "." },
		},
		{
			Name: "custom",
			When: func(in Input) bool { return nonEmpty(in.Profile.CustomInstructions) },
			Render: func(in Input) string {
				return "Additional instructions from the user:\n" + in.Profile.CustomInstructions
			},
		},
	}
}

// MemoryNote renders remembered facts as a system note. No facts, no note.
func MemoryNote(facts []string) string {
	var sb strings.Builder
	for _, f := range facts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("Things you remember about the user from earlier conversations:\n")
		}
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
