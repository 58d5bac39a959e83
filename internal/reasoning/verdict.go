// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"regexp"
	"strings"
)

// Verdict is the parsed outcome of a REVIEW or CRITIQUE phase.
type Verdict struct {
	Acceptable bool
	Found      bool // false when the model omitted the verdict token
	Feedback   string
}

var (
	stagedVerdictRe   = regexp.MustCompile(`(?i)\b(UN)?ACCEPTABLE:`)
	adaptiveVerdictRe = regexp.MustCompile(`(?i)Critique Result:\s*\**\s*(Acceptable|Flawed)\b\**`)
)

// ParseReviewVerdict reads an ACCEPTABLE:/UNACCEPTABLE: token. The first token
// in the text wins. A missing token is treated as acceptable.
func ParseReviewVerdict(text string) Verdict {
	loc := stagedVerdictRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return Verdict{Acceptable: true, Feedback: strings.TrimSpace(text)}
	}
	unacceptable := loc[2] >= 0
	return Verdict{
		Acceptable: !unacceptable,
		Found:      true,
		Feedback:   strings.TrimSpace(text[loc[1]:]),
	}
}

// ParseCritiqueVerdict reads a "Critique Result: Acceptable|Flawed" line.
// A missing line is treated as acceptable.
func ParseCritiqueVerdict(text string) Verdict {
	loc := adaptiveVerdictRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return Verdict{Acceptable: true, Feedback: strings.TrimSpace(text)}
	}
	word := text[loc[2]:loc[3]]
	return Verdict{
		Acceptable: strings.EqualFold(word, "acceptable"),
		Found:      true,
		Feedback:   strings.TrimSpace(text[loc[1]:]),
	}
}
