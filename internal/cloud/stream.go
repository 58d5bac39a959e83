// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// =============================================================================
// STREAM HANDLE
// =============================================================================

// Stream is an open streaming response. Call Next until it returns io.EOF or
// an error, then Close.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	dec    Decoder
	closed bool
}

// Next returns the next delta. It returns io.EOF after DeltaDone. Transport
// failures come back as *Error with KindNetwork or KindAborted.
func (s *Stream) Next() (Delta, error) {
	if s.closed {
		return Delta{}, errStreamClosed
	}
	d, err := s.dec.Next()
	if err == io.EOF {
		return Delta{}, io.EOF
	}
	if err != nil {
		s.Close()
		return Delta{}, transportError(s.ctx, err)
	}
	return d, nil
}

// Close releases the response body. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// =============================================================================
// STREAMING CALLS
// =============================================================================

// Stream opens a streaming chat completion. Opening the stream is retried the
// same way as Chat; once the body is being read nothing is retried.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage, opts ...DecoderOption) (*Stream, error) {
	reqBody, err := c.buildRequest(messages, true)
	if err != nil {
		return nil, err
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.calculateBackoff(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := c.openStream(ctx, bodyBytes)
		if err == nil {
			framing := c.framing
			if framing == FramingAuto {
				framing = FramingFromContentType(resp.Header.Get("Content-Type"))
			}
			return &Stream{
				ctx:  ctx,
				body: resp.Body,
				dec:  NewDecoder(resp.Body, framing, opts...),
			}, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		log.Debug().Err(err).Str("component", "cloud").Int("attempt", attempt+1).Msg("retrying stream")
	}
	return nil, lastErr
}

func (c *Client) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, true)

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	c.logResponse(req, resp, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, readErr := readResponse(resp)
		if readErr != nil {
			data = nil
		}
		return nil, handleErrorResponse(resp.StatusCode, data)
	}
	return resp, nil
}

// StreamFunc streams a chat completion, calling fn for every content and
// reasoning delta in order. An error frame ends the call with a KindRemoteAPI
// error.
func (c *Client) StreamFunc(ctx context.Context, messages []ChatMessage, fn func(Delta)) error {
	stream, err := c.Stream(ctx, messages)
	if err != nil {
		return err
	}
	defer stream.Close()
	return Drain(stream, fn)
}

// Drain reads s to the end, forwarding content and reasoning deltas to fn.
func Drain(s interface{ Next() (Delta, error) }, fn func(Delta)) error {
	for {
		d, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch d.Kind {
		case DeltaDone:
			return nil
		case DeltaError:
			return &Error{Kind: KindRemoteAPI, Message: d.Text}
		default:
			fn(d)
		}
	}
}
