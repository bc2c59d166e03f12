// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

var (
	// ErrQuotaExceeded is an expected business state, not a failure: the
	// identity has no send quota left until the window resets.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrContentTooLarge means the request body exceeded the provider limit.
	ErrContentTooLarge = errors.New("content too large")

	// ErrProviderError is a generic server-side failure, retryable.
	ErrProviderError = errors.New("provider error")

	// ErrSessionCompleted is returned by Resume when the server-side
	// generation already finished. The final content travels on the done
	// event of the returned stream.
	ErrSessionCompleted = errors.New("session already completed")

	// ErrSessionNotFound is returned by Resume for an unknown or expired token.
	ErrSessionNotFound = errors.New("session not found")
)

// StreamError wraps a mid-stream failure while preserving any partial
// content received before it, so the consumer never loses visible progress.
type StreamError struct {
	Partial string // content received before the error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream interrupted (partial content: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
