// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the client side of the model provider's
// incremental response protocol.
//
// A generation is delivered as a stream of newline-delimited JSON events,
// each carrying one of: a text delta, a reasoning delta, a tool-call record,
// a tool result, a terminal error, or a done marker. Field order within a
// single event is not significant; events themselves arrive in a fixed order
// that consumers must preserve.
//
// The client supports re-attaching to a still-running generation through a
// resume token plus a local sequence offset, so a reconnect never re-delivers
// deltas the consumer already applied.
package provider
