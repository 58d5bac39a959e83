// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// STREAMING: Both wire framings the endpoint has used decode to the same
// sequence of deltas, however the bytes are chunked on the way in.

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE line (64KB).
const MaxChunkSize = 64 * 1024

// maxPendingSize caps the unparsed tail kept by the concatenated-JSON decoder.
const maxPendingSize = 1 << 20

// doneSentinel ends an SSE stream.
const doneSentinel = "[DONE]"

// =============================================================================
// DELTA TYPES
// =============================================================================

// DeltaKind identifies what a Delta carries.
type DeltaKind int

const (
	DeltaContent DeltaKind = iota
	DeltaReasoning
	DeltaError
	DeltaDone
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaContent:
		return "content"
	case DeltaReasoning:
		return "reasoning"
	case DeltaError:
		return "error"
	case DeltaDone:
		return "done"
	default:
		return "unknown"
	}
}

// Delta is one decoded stream event.
type Delta struct {
	Kind         DeltaKind
	Text         string
	FinishReason string // set on DeltaDone when the endpoint reported one
}

// Framing selects how a stream body is split into frames.
type Framing int

const (
	FramingAuto Framing = iota
	FramingSSE
	FramingConcat
)

func (f Framing) String() string {
	switch f {
	case FramingSSE:
		return "sse"
	case FramingConcat:
		return "concat"
	default:
		return "auto"
	}
}

// ParseFraming maps a config value to a Framing. Unknown values mean auto.
func ParseFraming(s string) Framing {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sse":
		return FramingSSE
	case "concat", "json":
		return FramingConcat
	default:
		return FramingAuto
	}
}

// FramingFromContentType picks a framing from a response Content-Type header.
func FramingFromContentType(contentType string) Framing {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FramingAuto
	}
	switch mediaType {
	case "text/event-stream":
		return FramingSSE
	case "application/json", "application/x-ndjson", "application/stream+json":
		return FramingConcat
	default:
		return FramingAuto
	}
}

// streamFrame is one JSON frame of a streaming response.
type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error json.RawMessage `json:"error,omitempty"`
}

// deltas converts a frame into deltas: reasoning, then content, then error.
func (f *streamFrame) deltas() (out []Delta, finish string) {
	if len(f.Choices) > 0 {
		c := f.Choices[0]
		reasoning := c.Delta.Reasoning
		if reasoning == "" {
			reasoning = c.Delta.ReasoningContent
		}
		if reasoning != "" {
			out = append(out, Delta{Kind: DeltaReasoning, Text: reasoning})
		}
		if c.Delta.Content != "" {
			out = append(out, Delta{Kind: DeltaContent, Text: c.Delta.Content})
		}
		if c.FinishReason != nil {
			finish = *c.FinishReason
		}
	}
	if msg := frameErrorMessage(f.Error); msg != "" {
		out = append(out, Delta{Kind: DeltaError, Text: msg})
	}
	return out, finish
}

// frameErrorMessage extracts a message from an "error" field that may be a
// string or an object with a "message" key.
func frameErrorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder yields deltas from a stream body. Next returns io.EOF after the
// single DeltaDone. Frames that fail to parse are reported to the warning
// handler and skipped; only transport errors are returned.
type Decoder interface {
	Next() (Delta, error)
}

// WarningHandler receives frames that could not be parsed.
type WarningHandler func(DecodeWarning)

// DecoderOption configures a decoder.
type DecoderOption func(*decoderBase)

// WithWarningHandler replaces the default zerolog warning handler.
func WithWarningHandler(h WarningHandler) DecoderOption {
	return func(d *decoderBase) {
		if h != nil {
			d.warn = h
		}
	}
}

func logDecodeWarning(w DecodeWarning) {
	log.Warn().Err(w.Err).
		Str("component", "decoder").
		Str("framing", w.Framing.String()).
		Int("frame_len", len(w.Frame)).
		Msg("skipping unparseable stream frame")
}

// decoderBase holds the delta queue shared by both framings.
type decoderBase struct {
	queue    []Delta
	finish   string
	finished bool
	warn     WarningHandler
}

func newDecoderBase(opts []DecoderOption) decoderBase {
	b := decoderBase{warn: logDecodeWarning}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *decoderBase) push(f *streamFrame) {
	ds, finish := f.deltas()
	b.queue = append(b.queue, ds...)
	if finish != "" {
		b.finish = finish
	}
}

// finishStream queues the terminal DeltaDone.
func (b *decoderBase) finishStream() {
	b.queue = append(b.queue, Delta{Kind: DeltaDone, FinishReason: b.finish})
	b.finished = true
}

func (b *decoderBase) pop() (Delta, bool) {
	if len(b.queue) == 0 {
		return Delta{}, false
	}
	d := b.queue[0]
	b.queue = b.queue[1:]
	return d, true
}

// NewDecoder returns a decoder for the given framing. FramingAuto sniffs the
// first non-space bytes of the body.
func NewDecoder(r io.Reader, framing Framing, opts ...DecoderOption) Decoder {
	br := bufio.NewReaderSize(r, MaxChunkSize)
	if framing == FramingAuto {
		framing = sniffFraming(br)
	}
	if framing == FramingSSE {
		return newSSEDecoder(br, opts)
	}
	return newConcatDecoder(br, opts)
}

// sniffFraming peeks at the body without consuming it.
func sniffFraming(br *bufio.Reader) Framing {
	for n := 16; n <= 512; n *= 2 {
		peek, err := br.Peek(n)
		trimmed := bytes.TrimLeftFunc(peek, unicode.IsSpace)
		if len(trimmed) > 0 {
			switch {
			case trimmed[0] == '{':
				return FramingConcat
			case trimmed[0] == ':', bytes.HasPrefix(trimmed, []byte("data")), bytes.HasPrefix(trimmed, []byte("event")):
				return FramingSSE
			}
			if len(trimmed) >= 5 {
				return FramingSSE
			}
		}
		if err != nil {
			break
		}
	}
	return FramingSSE
}

// =============================================================================
// SSE DECODER
// =============================================================================

// SSEReader reads "data:" payloads from a Server-Sent Events stream, one
// payload per line.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	if br, ok := r.(*bufio.Reader); ok {
		return &SSEReader{reader: br}
	}
	return &SSEReader{reader: bufio.NewReaderSize(r, MaxChunkSize)}
}

// ReadData returns the payload of the next non-empty data line.
// Comments, event/id/retry fields and blank lines are skipped.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadData() ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			if bytes.HasPrefix(line, []byte("data:")) {
				data := bytes.TrimPrefix(line[5:], []byte(" "))
				if len(bytes.TrimSpace(data)) > 0 {
					return data, nil
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

type sseDecoder struct {
	decoderBase
	reader *SSEReader
}

// NewSSEDecoder decodes an SSE-framed stream.
func NewSSEDecoder(r io.Reader, opts ...DecoderOption) Decoder {
	return newSSEDecoder(r, opts)
}

func newSSEDecoder(r io.Reader, opts []DecoderOption) *sseDecoder {
	return &sseDecoder{decoderBase: newDecoderBase(opts), reader: NewSSEReader(r)}
}

func (d *sseDecoder) Next() (Delta, error) {
	for {
		if delta, ok := d.pop(); ok {
			return delta, nil
		}
		if d.finished {
			return Delta{}, io.EOF
		}

		data, err := d.reader.ReadData()
		if err == io.EOF {
			d.finishStream()
			continue
		}
		if err != nil {
			return Delta{}, err
		}

		if string(bytes.TrimSpace(data)) == doneSentinel {
			d.finishStream()
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			d.warn(DecodeWarning{Framing: FramingSSE, Frame: string(data), Err: err})
			continue
		}
		d.push(&frame)
	}
}

// =============================================================================
// CONCATENATED-JSON DECODER
// =============================================================================

type concatDecoder struct {
	decoderBase
	r       io.Reader
	buf     []byte
	pending string
	eof     bool
}

// NewConcatDecoder decodes a body of back-to-back JSON objects with no
// delimiter between them.
func NewConcatDecoder(r io.Reader, opts ...DecoderOption) Decoder {
	return newConcatDecoder(r, opts)
}

func newConcatDecoder(r io.Reader, opts []DecoderOption) *concatDecoder {
	return &concatDecoder{
		decoderBase: newDecoderBase(opts),
		r:           r,
		buf:         make([]byte, 4096),
	}
}

func (d *concatDecoder) Next() (Delta, error) {
	for {
		if delta, ok := d.pop(); ok {
			return delta, nil
		}
		if d.finished {
			return Delta{}, io.EOF
		}
		if d.eof {
			d.flush()
			d.finishStream()
			continue
		}

		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.feed(string(d.buf[:n]))
		}
		if err == io.EOF {
			d.eof = true
		} else if err != nil {
			return Delta{}, err
		}
	}
}

// feed splits pending+chunk into candidate objects. A candidate that does not
// parse is joined with the next one, which covers both a chunk boundary inside
// an object and a "}{" sequence inside a string value.
func (d *concatDecoder) feed(chunk string) {
	text := d.pending + chunk
	d.pending = ""

	var acc string
	for _, part := range splitObjects(text) {
		candidate := acc + part
		var frame streamFrame
		if err := json.Unmarshal([]byte(candidate), &frame); err == nil {
			d.push(&frame)
			acc = ""
			continue
		}
		// Text that cannot begin a JSON object is garbage. Anything else
		// may be a frame split on a "}{" inside a string and is kept.
		if acc != "" && !isObjectPrefix(acc) {
			var alone streamFrame
			if err := json.Unmarshal([]byte(part), &alone); err == nil {
				d.warn(DecodeWarning{Framing: FramingConcat, Frame: acc, Err: errUnparseableFrame})
				d.push(&alone)
				acc = ""
				continue
			}
		}
		acc = candidate
	}

	if strings.TrimSpace(acc) == "" {
		return
	}
	if len(acc) > maxPendingSize {
		d.warn(DecodeWarning{Framing: FramingConcat, Frame: acc, Err: errPendingOverflow})
		return
	}
	d.pending = acc
}

// flush makes the final parse attempt on the leftover tail. A failure here is
// the expected shape of a truncated stream and is dropped without a warning.
func (d *concatDecoder) flush() {
	tail := strings.TrimSpace(d.pending)
	d.pending = ""
	if tail == "" {
		return
	}
	var frame streamFrame
	if err := json.Unmarshal([]byte(tail), &frame); err != nil {
		log.Debug().Str("component", "decoder").Int("tail_len", len(tail)).Msg("discarding incomplete tail")
		return
	}
	d.push(&frame)
}

// splitObjects cuts s after every '}' whose next non-space byte is '{'.
// Concatenating the parts gives back s.
func splitObjects(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '}' {
			continue
		}
		j := i + 1
		for j < len(s) && isJSONSpace(s[j]) {
			j++
		}
		if j < len(s) && s[j] == '{' {
			parts = append(parts, s[start:i+1])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// isObjectPrefix reports whether s could still grow into a single JSON
// object: it opens with '{', and the tokenizer runs out of input before it
// sees a syntax error or the end of that object.
func isObjectPrefix(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || json.Valid([]byte(s)) {
		return false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err == io.EOF || err == io.ErrUnexpectedEOF
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return false
		}
	}
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}
