// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
)

var (
	// ErrThreadNotFound is returned when a thread does not exist.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMessageNotFound is returned when a message does not exist, for
	// example deleting the last assistant message of a thread without one.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAccessDenied is returned when an identity touches a thread it does
	// not own.
	ErrAccessDenied = errors.New("access denied")

	// ErrWriteFailed wraps a persistence write that failed after the retry.
	ErrWriteFailed = errors.New("persistence write failed")
)
