// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes client errors for handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNetwork is a transport failure issuing or reading a request.
	KindNetwork
	// KindRemoteAPI is a non-2xx response or an error frame from the endpoint.
	KindRemoteAPI
	// KindAborted is a user-initiated cancellation. Callers treat it as a clean stop.
	KindAborted
	// KindMalformedResponse is a response missing the fields we need.
	KindMalformedResponse
)

// String returns a short name for the kind, used in inline annotations.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRemoteAPI:
		return "api"
	case KindAborted:
		return "aborted"
	case KindMalformedResponse:
		return "malformed response"
	default:
		return "unknown"
	}
}

// Error is the error type returned by Client and Stream.
type Error struct {
	Kind    ErrorKind
	Status  int // HTTP status for KindRemoteAPI, 0 otherwise
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Sentinel errors for request validation.
var (
	ErrNoMessages   = errors.New("message list is empty")
	ErrLastNotUser  = errors.New("message list must end with a user message")
	ErrNoEndpoint   = errors.New("endpoint not configured")
	errStreamClosed = errors.New("stream closed")

	errPendingOverflow  = errors.New("unterminated frame exceeds buffer limit")
	errUnparseableFrame = errors.New("frame is not valid JSON")
)

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
// A bare context.Canceled counts as KindAborted.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}
	return KindUnknown
}

// IsAborted reports whether err is a user-initiated cancellation.
func IsAborted(err error) bool {
	return KindOf(err) == KindAborted
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	return KindOf(err) == KindNetwork
}

// IsRemoteAPI reports whether err came from the remote endpoint.
func IsRemoteAPI(err error) bool {
	return KindOf(err) == KindRemoteAPI
}

// IsMalformed reports whether err is a malformed response.
func IsMalformed(err error) bool {
	return KindOf(err) == KindMalformedResponse
}

// NewMalformedError builds a KindMalformedResponse error.
func NewMalformedError(format string, args ...any) *Error {
	return &Error{Kind: KindMalformedResponse, Message: fmt.Sprintf(format, args...)}
}

// transportError converts an error from the HTTP client or body reader into
// an *Error. Cancellation of ctx wins over whatever the transport reported.
func transportError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindAborted, Message: "request canceled", Cause: context.Canceled}
	}
	return &Error{Kind: KindNetwork, Message: "request failed", Cause: err}
}

// =============================================================================
// DECODE WARNINGS
// =============================================================================

// DecodeWarning describes a single frame that failed to parse. It is handed to
// a WarningHandler and never returned from a Decoder.
type DecodeWarning struct {
	Framing Framing
	Frame   string
	Err     error
}

func (w DecodeWarning) Error() string {
	frame := w.Frame
	if len(frame) > 120 {
		frame = frame[:120] + "..."
	}
	return fmt.Sprintf("%s frame skipped: %v (frame=%q)", w.Framing, w.Err, frame)
}

func (w DecodeWarning) Unwrap() error {
	return w.Err
}
