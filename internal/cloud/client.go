// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the client for the hosted chat-completions endpoint.
//
// The endpoint is OpenAI-compatible and unauthenticated. This package issues
// single calls (streaming or not) and decodes streamed bodies into deltas.
//
// CLOUD: Retry logic, rate limiting, and typed errors
package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Configuration constants for the completions endpoint.
const (
	// DefaultEndpoint is the chat completions URL.
	DefaultEndpoint = "https://text.pollinations.ai/openai"

	// DefaultModel is sent when no model is configured.
	DefaultModel = "openai"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the default number of attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	sharedHTTPClient = &http.Client{
		Transport: sharedTransport,
		Timeout:   DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; streams are bounded by the context.
	sharedStreamingClient = &http.Client{
		Transport: sharedTransport,
	}
)

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// ChatMessage is one entry of the outgoing message list. Only role and
// content go over the wire.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// Params holds optional generation parameters. Nil fields are not sent.
type Params struct {
	Temperature      *float64 `toml:"temperature" json:"temperature,omitempty"`
	TopP             *float64 `toml:"top_p" json:"top_p,omitempty"`
	MaxTokens        *int     `toml:"max_tokens" json:"max_tokens,omitempty"`
	Seed             *int     `toml:"seed" json:"seed,omitempty"`
	PresencePenalty  *float64 `toml:"presence_penalty" json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `toml:"frequency_penalty" json:"frequency_penalty,omitempty"`
	ReasoningEffort  *string  `toml:"reasoning_effort" json:"reasoning_effort,omitempty"`
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model            string        `json:"model,omitempty"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	Seed             *int          `json:"seed,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	ReasoningEffort  *string       `json:"reasoning_effort,omitempty"`
}

// ChatResponse represents a non-streaming response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ResponseMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ResponseMessage is a choice's message. Content is nil when the field is
// missing, which differs from an empty reply.
type ResponseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 && r.Choices[0].Message.Content != nil {
		return *r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error json.RawMessage `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues single calls to the completions endpoint.
type Client struct {
	endpoint     string
	model        string
	params       Params
	httpClient   *http.Client
	streamClient *http.Client
	maxRetries   int
	limiter      *rate.Limiter
	framing      Framing
	userAgent    string
}

// NewClient creates a client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:     strings.TrimSpace(endpoint),
		model:        DefaultModel,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		maxRetries:   DefaultMaxRetries,
		framing:      FramingAuto,
		userAgent:    "thinkchat/0.3",
	}
}

// WithModel sets the model to request.
func (c *Client) WithModel(model string) *Client {
	c.model = strings.TrimSpace(model)
	return c
}

// WithParams sets the optional generation parameters.
func (c *Client) WithParams(p Params) *Client {
	c.params = p
	return c
}

// WithHTTPClient replaces the HTTP client used for both streaming and
// non-streaming calls.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithTimeout sets the timeout for non-streaming calls.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.httpClient = &http.Client{Transport: c.httpClient.Transport, Timeout: timeout}
	}
	return c
}

// WithMaxRetries sets the maximum number of attempts. Values below 1 mean one attempt.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithFraming forces a stream framing instead of detecting it.
func (c *Client) WithFraming(f Framing) *Client {
	c.framing = f
	return c
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// buildRequest validates messages and applies the optional parameters the
// model supports.
func (c *Client) buildRequest(messages []ChatMessage, stream bool) (ChatRequest, error) {
	if c.endpoint == "" {
		return ChatRequest{}, ErrNoEndpoint
	}
	if len(messages) == 0 {
		return ChatRequest{}, ErrNoMessages
	}
	if messages[len(messages)-1].Role != "user" {
		return ChatRequest{}, ErrLastNotUser
	}

	p := SupportedParams(c.model, c.params)
	return ChatRequest{
		Model:            c.model,
		Messages:         messages,
		Stream:           stream,
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		MaxTokens:        p.MaxTokens,
		Seed:             p.Seed,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
		ReasoningEffort:  p.ReasoningEffort,
	}, nil
}

// =============================================================================
// NON-STREAMING CALLS
// =============================================================================

// Chat performs a non-streaming chat completion.
//
// It retries with exponential backoff on rate limiting, server errors and
// network failures. Cancellation is never retried.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	reqBody, err := c.buildRequest(messages, false)
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

		resp, err := c.doRequest(ctx, bodyBytes)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		log.Debug().Err(err).Str("component", "cloud").Int("attempt", attempt+1).Msg("retrying request")
	}
	return nil, lastErr
}

// Complete performs a non-streaming call and returns the text of the first
// choice. A response without choices, or whose first choice has no
// message.content, is a malformed response.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	resp, err := c.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", NewMalformedError("response has no choices")
	}
	if resp.Choices[0].Message.Content == nil {
		return "", NewMalformedError("response choice has no message content")
	}
	return resp.GetContent(), nil
}

// doRequest performs a single non-streaming HTTP request.
func (c *Client) doRequest(ctx context.Context, body []byte) (*ChatResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, false)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	c.logResponse(req, resp, time.Since(start))

	data, err := readResponse(resp)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(resp.StatusCode, data)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Message: "failed to parse response", Cause: err}
	}
	return &chatResp, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) setHeaders(req *http.Request, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if stream {
		req.Header.Set("Accept", "text/event-stream, application/json")
		req.Header.Set("Cache-Control", "no-cache")
	} else {
		req.Header.Set("Accept", "application/json")
	}
}

// logResponse logs status and duration only. Bodies may hold user text.
func (c *Client) logResponse(req *http.Request, resp *http.Response, d time.Duration) {
	log.Debug().
		Str("component", "cloud").
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", d).
		Msg("api response")
}

// wait blocks on the rate limiter, if any.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(ctx, err)
	}
	return nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return transportError(ctx, ctx.Err())
	case <-t.C:
		return nil
	}
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-2xx response into a KindRemoteAPI error
// carrying the server-provided message when there is one.
func handleErrorResponse(statusCode int, body []byte) error {
	msg := strings.TrimSpace(string(body))

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if m := frameErrorMessage(apiErr.Error); m != "" {
			msg = m
		}
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return &Error{Kind: KindRemoteAPI, Status: statusCode, Message: msg}
}

// isRetryable reports whether a failed attempt may be retried.
func isRetryable(err error) bool {
	cerr, ok := err.(*Error)
	if !ok {
		return false
	}
	switch cerr.Kind {
	case KindNetwork:
		return true
	case KindRemoteAPI:
		return cerr.Status == http.StatusTooManyRequests || cerr.Status >= 500
	default:
		return false
	}
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: 500ms, 1000ms, 2000ms, etc.
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
