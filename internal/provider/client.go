// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CLIENT
// =============================================================================

// DefaultBaseURL is the provider endpoint used when none is configured.
const DefaultBaseURL = "http://localhost:8800"

// Client talks to the model provider over HTTP. Generations stream back as
// newline-delimited JSON events; the resume token arrives in a response
// header so it can be persisted before the first delta is read.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// limiter smooths request bursts client-side so a retry storm never
	// hammers the provider.
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// No overall timeout: generation streams are long-lived. The
			// dial/TLS phases are bounded instead.
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resumeTokenHeader carries the durable generation pointer.
const resumeTokenHeader = "X-Generation-Token"

// Start begins a new generation and returns the open stream. The returned
// Response's ResumeToken is durable for the lifetime of the server-side
// generation and must be persisted before deltas are applied.
func (c *Client) Start(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &Response{
		ResumeToken: resp.Header.Get(resumeTokenHeader),
		Reader:      NewStreamReader(resp.Body),
	}, nil
}

// setHeaders applies the standard request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Resume re-attaches to a still-running generation. afterSeq is the highest
// sequence number already applied locally; the server resends nothing at or
// before it. If the generation already completed, the stream consists of a
// single done event carrying the final content.
func (c *Client) Resume(ctx context.Context, token string, afterSeq int64) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(ResumeRequest{Token: token, AfterSeq: afterSeq})
	if err != nil {
		return nil, fmt.Errorf("failed to encode resume request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generations/resume", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build resume request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrSessionNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &Response{
		ResumeToken: token,
		Reader:      NewStreamReader(resp.Body),
	}, nil
}

// checkStatus maps HTTP status codes onto the error taxonomy. It consumes
// and closes the body on failure.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	detail := readErrorDetail(resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return ErrContentTooLarge
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrQuotaExceeded
	case resp.StatusCode == http.StatusGone:
		return ErrSessionCompleted
	default:
		if detail != "" {
			return fmt.Errorf("%w: HTTP %d: %s", ErrProviderError, resp.StatusCode, detail)
		}
		return fmt.Errorf("%w: HTTP %d", ErrProviderError, resp.StatusCode)
	}
}

// readErrorDetail extracts a short error message from a failed response body.
func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil || len(data) == 0 {
		return ""
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return string(data)
}
