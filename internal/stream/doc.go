// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream owns one generation attempt as a cancellable, resumable
// unit of work.
//
// A Session consumes the provider's event stream, applies deltas to its
// local assistant message strictly in arrival order, and moves through
// idle -> submitted -> streaming -> done | error | cancelled. On completion
// or cancel-with-partial-save the accumulated output is flushed through the
// persistence bridge before the terminal state is reported, so no received
// token is ever silently lost.
//
// The Manager enforces the one-streaming-message-per-thread invariant: a
// Start for a thread with a live session first cancels that session with
// partial save, then begins the new one.
package stream
