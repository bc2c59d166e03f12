// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package controller orchestrates the multi-step chat operations: send
// (quota gate, persist, stream), retry (cancel, cleanup, resubmit), and
// resume (re-attach to an interrupted generation after a reload).
//
// The controller owns the ordering and failure policy of each operation;
// the heavy lifting lives in the stream, storage, and quota packages.
package controller
