// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage is the persistence bridge: it writes completed or partial
// assistant output and reads historical messages from a local SQLite
// database.
//
// Every operation is identity-scoped. A thread is owned by the identity that
// created it, and reads or writes under a different identity fail with
// ErrAccessDenied rather than leaking the thread's existence details.
//
// The resume-token channel lives here too: a durable pointer to an
// in-progress server-side generation, stored on the thread row so a reload
// can re-attach to the stream.
package storage
