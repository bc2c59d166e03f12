// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// The view is a thin shell over the engine packages: user actions go through
// the controller, live session state arrives as activity messages, and the
// transcript shown in the viewport is always the reconciler's output. The
// view itself holds no conversation state of its own.
//
// Layout: header (1 line) + transcript (viewport) + input (textarea) +
// status (1 line).
package chat
