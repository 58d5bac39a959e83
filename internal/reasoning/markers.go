// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"fmt"
	"strings"
	"unicode"
)

// Literal markers written into the assistant message. UIs key off these to
// detect reasoning mode and to split the trace from the final answer.
const (
	// Preamble is yielded before the first phase.
	Preamble = "<reasoning>\n"

	// TraceClose separates the reasoning trace from the final summary.
	TraceClose = "\n\n</reasoning>\n\n"

	// AbortedMarker is appended when the user cancels a turn.
	AbortedMarker = "\n\n[stream canceled]"

	// CompletionMarker is emitted by the model at the end of its final
	// adaptive step.
	CompletionMarker = "REASONING COMPLETE."
)

// PhaseMarker is the boundary written before a phase's text.
func PhaseMarker(p Phase) string {
	return "\n\n--- " + strings.ToUpper(string(p)) + " ---\n\n"
}

// ErrorMarker is the visible annotation for a failed reasoning run.
func ErrorMarker(msg string) string {
	return "\n\n[reasoning error: " + msg + "]"
}

// RetryLimitMarker notes that the retry ceiling forced the summary.
func RetryLimitMarker(n int, unit string) string {
	return fmt.Sprintf("\n\n[retry limit reached after %d %s, summarizing best effort]", n, unit)
}

// SplitTrace separates stored content into the reasoning trace and the final
// answer. Content without a trace is all answer.
func SplitTrace(content string) (trace, answer string) {
	if !strings.HasPrefix(content, Preamble) {
		return "", content
	}
	idx := strings.LastIndex(content, TraceClose)
	if idx < 0 {
		return content, ""
	}
	return content[:idx], content[idx+len(TraceClose):]
}

// FinalAnswer returns only the user-facing answer from stored content.
func FinalAnswer(content string) string {
	_, answer := SplitTrace(content)
	return answer
}

// ============================================================================
// COMPLETION MARKER FILTER
// ============================================================================

// markerFilter forwards streamed text but holds back any tail that could
// still turn into the marker, so a marker at the very end is never shown.
type markerFilter struct {
	marker string
	held   string
	emit   func(string)
}

func newMarkerFilter(marker string, emit func(string)) *markerFilter {
	return &markerFilter{marker: marker, emit: emit}
}

func (f *markerFilter) Write(s string) {
	buf := f.held + s
	cut := safeCut(buf, f.marker)
	if cut > 0 {
		f.emit(buf[:cut])
	}
	f.held = buf[cut:]
}

// Close flushes the held tail. It reports whether the text ended with the
// marker, in which case the marker and trailing whitespace are dropped.
func (f *markerFilter) Close() bool {
	held := f.held
	f.held = ""
	trimmed := strings.TrimRightFunc(held, unicode.IsSpace)
	if strings.HasSuffix(trimmed, f.marker) {
		if rest := trimmed[:len(trimmed)-len(f.marker)]; rest != "" {
			f.emit(rest)
		}
		return true
	}
	if held != "" {
		f.emit(held)
	}
	return false
}

// safeCut returns how much of buf can be emitted: everything before trailing
// whitespace and before the longest suffix that is a prefix of marker.
func safeCut(buf, marker string) int {
	trimmed := strings.TrimRightFunc(buf, unicode.IsSpace)
	k := len(marker)
	if k > len(trimmed) {
		k = len(trimmed)
	}
	for ; k > 0; k-- {
		if strings.HasSuffix(trimmed, marker[:k]) {
			return len(trimmed) - k
		}
	}
	return len(trimmed)
}

// stripCompletion removes a trailing completion marker from a full phase text.
func stripCompletion(text string) (string, bool) {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if strings.HasSuffix(trimmed, CompletionMarker) {
		return strings.TrimRightFunc(trimmed[:len(trimmed)-len(CompletionMarker)], unicode.IsSpace), true
	}
	return text, false
}
