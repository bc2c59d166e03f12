// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package phase classifies an in-flight generation into a semantic phase.
//
// The phase is a pure function of the live session state: there is exactly
// one source of truth, and every status flag the UI needs (spinner text,
// reasoning panel expansion) is a projection of it. Detect is evaluated on
// every delta arrival, never polled.
package phase

// =============================================================================
// PHASE TYPE
// =============================================================================

// Phase is the semantic classification of a generation attempt.
type Phase string

const (
	// Idle: no active session.
	Idle Phase = "idle"

	// Queued: submitted, nothing received yet, no signal of thinking or
	// browsing.
	Queued Phase = "queued"

	// Thinking: no answer text yet, but reasoning is arriving or a
	// thinking-capable model was requested.
	Thinking Phase = "thinking"

	// Browsing: no answer text or reasoning yet, browsing was requested,
	// and a tool call is open.
	Browsing Phase = "browsing"

	// Responding: answer text has started arriving. Reasoning may continue
	// concurrently; the phase stays Responding regardless.
	Responding Phase = "responding"

	// Done: the session reached a successful terminal state.
	Done Phase = "done"

	// Error: the session reached a failed terminal state.
	Error Phase = "error"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// StatusText returns the user-facing status line for the phase.
func (p Phase) StatusText() string {
	switch p {
	case Queued:
		return "Waiting..."
	case Thinking:
		return "Thinking..."
	case Browsing:
		return "Browsing..."
	case Responding:
		return "Responding..."
	case Error:
		return "Something went wrong"
	default:
		return ""
	}
}

// IsActive returns true while a generation is in flight.
func (p Phase) IsActive() bool {
	switch p {
	case Queued, Thinking, Browsing, Responding:
		return true
	default:
		return false
	}
}

// =============================================================================
// DETECTION
// =============================================================================

// Inputs is the tuple the phase is derived from. Identical inputs always
// produce the identical phase.
type Inputs struct {
	// Session lifecycle.
	HasSubmitted bool
	Terminal     bool // session reached done/error/cancelled
	Failed       bool // terminal state was an error

	// Delta observations.
	HasReceivedContent  bool
	HasReasoningContent bool
	HasActiveToolCall   bool

	// Attempt configuration.
	ThinkingModel     bool // a thinking-capable model was selected
	BrowsingRequested bool
}

// Detect derives the phase from the input tuple. Rules apply in priority
// order; the first match wins.
func Detect(in Inputs) Phase {
	// 1. No active session.
	if !in.HasSubmitted {
		return Idle
	}
	if in.Terminal {
		if in.Failed {
			return Error
		}
		return Done
	}

	// 4 (checked early so content always wins over tool/reasoning signals):
	// any answer text means we are responding.
	if in.HasReceivedContent {
		return Responding
	}

	// 2. Browsing: tool call open before any content or reasoning arrived.
	if in.BrowsingRequested && in.HasActiveToolCall && !in.HasReasoningContent {
		return Browsing
	}

	// 3. Thinking: reasoning arriving, or a thinking model was requested.
	if in.HasReasoningContent || in.ThinkingModel {
		return Thinking
	}

	// 5. Submitted, nothing yet.
	return Queued
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// ShouldShowReasoningPanel reports whether the reasoning panel renders. It is
// a projection of the phase plus reasoning presence, not independent state:
// the panel shows whenever reasoning exists, including while responding.
func ShouldShowReasoningPanel(p Phase, hasReasoning bool) bool {
	if p == Thinking {
		return true
	}
	return hasReasoning && (p == Responding || p == Done)
}

// ReasoningExpanded reports whether the panel starts expanded: only while
// the reasoning is still the main event, before content starts.
func ReasoningExpanded(p Phase) bool {
	return p == Thinking
}
