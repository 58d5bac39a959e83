// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Terminal output for assistant replies.
//
// USABILITY: Markdown rendering with the reasoning trace kept visually apart
//
// Replies are streamed as plain text. On a terminal with markdown enabled
// the streamed answer is redrawn through glamour once the turn completes.

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/jeranaias/thinkchat/internal/config"
	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/reasoning"
)

// =============================================================================
// RENDERER
// =============================================================================

// Renderer writes messages to a terminal or a plain stream.
type Renderer struct {
	out           io.Writer
	term          *termenv.Output
	tty           bool
	markdown      bool
	showReasoning bool
	width         int
	height        int
	style         string

	mdOnce sync.Once
	md     *glamour.TermRenderer
}

// NewRenderer creates a renderer for out using the ui settings.
func NewRenderer(out io.Writer, ui config.UIConfig) *Renderer {
	tty := isTerminalWriter(out)
	profile := termenv.Ascii
	if tty {
		profile = GetColorProfile()
	}

	width, height := DefaultTerminalWidth, 0
	if f, ok := out.(*os.File); ok && tty {
		if w, h, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width, height = w, h
		}
	}
	if ui.Width > 0 {
		width = ui.Width
	}
	width = clampWidth(width)

	return &Renderer{
		out:           out,
		term:          termenv.NewOutput(out, termenv.WithProfile(profile)),
		tty:           tty,
		markdown:      ui.Markdown && tty,
		showReasoning: ui.ShowReasoning,
		width:         width,
		height:        height,
		style:         glamourStyle(ui.Style, tty),
	}
}

// Markdown renders text through glamour, returning it unchanged when the
// renderer cannot be built.
func (r *Renderer) Markdown(text string) string {
	r.mdOnce.Do(func() {
		wrap := r.width - 2
		if wrap < MinTerminalWidth {
			wrap = MinTerminalWidth
		}
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(wrap),
		)
		if err == nil {
			r.md = md
		}
	})
	if r.md == nil {
		return text
	}
	rendered, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return rendered
}

// dim styles reasoning text. With the Ascii profile it is a no-op.
func (r *Renderer) dim(s string) string {
	return r.term.String(s).Faint().Italic().String()
}

// splitMessage returns the displayable reasoning trace and the answer.
// Streamed reasoning deltas come first, then any orchestrated trace.
func splitMessage(m model.Message) (trace, answer string) {
	trace, answer = reasoning.SplitTrace(m.Content)
	trace = strings.TrimPrefix(trace, reasoning.Preamble)
	return m.Reasoning + trace, answer
}

// RenderMessage prints a stored message in full.
func (r *Renderer) RenderMessage(m *model.Message) {
	if m == nil || m.Role == model.RoleSystem {
		return
	}
	label := fmt.Sprintf("%s (%s)", m.Role.DisplayName(), m.Timestamp.Format("15:04"))
	fmt.Fprintln(r.out, RoleStyle.Render(label))

	if m.Role == model.RoleUser {
		fmt.Fprintln(r.out, m.Content)
		fmt.Fprintln(r.out)
		return
	}

	trace, answer := splitMessage(*m)
	if r.showReasoning && strings.TrimSpace(trace) != "" {
		header := "Reasoning"
		if m.ReasoningDuration > 0 {
			header = fmt.Sprintf("Reasoning (%s)", m.ReasoningDuration.Round(100*time.Millisecond))
		}
		fmt.Fprintln(r.out, r.dim(header))
		fmt.Fprintln(r.out, r.dim(strings.TrimSpace(trace)))
		fmt.Fprintln(r.out)
	}
	if r.markdown && !m.Error {
		fmt.Fprint(r.out, r.Markdown(answer))
		return
	}
	fmt.Fprintln(r.out, strings.TrimSpace(answer))
	fmt.Fprintln(r.out)
}

// RenderConversation prints a title header followed by every message.
func (r *Renderer) RenderConversation(conv *model.Conversation) {
	fmt.Fprintln(r.out, TitleStyle.Render(conv.GetTitle()))
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("%s  %s  %d messages",
		conv.ID, conv.CreatedAt.Format("2006-01-02 15:04"), conv.MessageCount())))
	fmt.Fprintln(r.out, RenderSeparator(min(r.width, 70)))
	fmt.Fprintln(r.out)
	for _, m := range conv.Messages {
		r.RenderMessage(m)
	}
}

// =============================================================================
// STREAM VIEW
// =============================================================================

// streamView prints an assistant message incrementally from controller
// snapshots. Snapshots only ever grow, so it prints the new suffix.
type streamView struct {
	r       *Renderer
	traceN  int
	answerN int
	answer  strings.Builder
}

func (r *Renderer) newStream() *streamView {
	return &streamView{r: r}
}

// Update prints whatever m adds over the previous snapshot.
func (v *streamView) Update(m model.Message) {
	trace, answer := splitMessage(m)

	if v.answerN == 0 && len(trace) > v.traceN {
		if v.r.showReasoning {
			fmt.Fprint(v.r.out, v.r.dim(trace[v.traceN:]))
		}
		v.traceN = len(trace)
	}

	if len(answer) > v.answerN {
		chunk := answer[v.answerN:]
		if v.answerN == 0 {
			if v.r.showReasoning && strings.TrimSpace(trace) != "" {
				fmt.Fprint(v.r.out, "\n\n")
			}
			chunk = strings.TrimLeft(chunk, "\n")
		}
		fmt.Fprint(v.r.out, chunk)
		v.answer.WriteString(chunk)
		v.answerN = len(answer)
	}
}

// Finish prints the remainder of m and, on a terminal with markdown on,
// replaces the raw answer with its rendered form.
func (v *streamView) Finish(m model.Message) {
	v.Update(m)
	raw := v.answer.String()
	if !v.r.markdown || m.Error || strings.TrimSpace(raw) == "" {
		fmt.Fprint(v.r.out, "\n\n")
		return
	}
	rows := displayRows(raw, v.r.width)
	if v.r.height > 0 && rows >= v.r.height {
		// Part of it scrolled away; a redraw would leave a mix.
		fmt.Fprint(v.r.out, "\n\n")
		return
	}
	v.r.term.ClearLines(rows - 1)
	fmt.Fprint(v.r.out, "\r")
	fmt.Fprint(v.r.out, v.r.Markdown(raw))
}

// displayRows counts the terminal rows text occupies at the given width.
func displayRows(text string, width int) int {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		w := runewidth.StringWidth(line)
		if w == 0 {
			rows++
			continue
		}
		rows += (w + width - 1) / width
	}
	return rows
}

// =============================================================================
// SYNTAX HIGHLIGHTING
// =============================================================================

// Highlight colors exported JSON or YAML for a terminal. Unknown languages
// and formatter failures return the input unchanged.
func Highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		return code
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}
