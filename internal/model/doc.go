// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads, messages, and
// quota identities.
//
// A Thread is the durable conversation unit: an ordered message list plus
// metadata (title, model, owner, resume token). A Message carries textual
// content, an optional reasoning trace, and optional tool-call records.
// While a generation is in flight, exactly one message per thread is in the
// streaming state; its content and reasoning grow monotonically through
// strings.Builder buffers and are frozen by FinalizeStream.
package model
