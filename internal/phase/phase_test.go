// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package phase

import (
	"testing"
)

// =============================================================================
// DETECTION TESTS
// =============================================================================

func TestDetect_RulePriority(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want Phase
	}{
		{
			name: "no session",
			in:   Inputs{},
			want: Idle,
		},
		{
			name: "submitted, nothing yet",
			in:   Inputs{HasSubmitted: true},
			want: Queued,
		},
		{
			name: "browsing before any delta",
			in: Inputs{
				HasSubmitted:      true,
				BrowsingRequested: true,
				HasActiveToolCall: true,
			},
			want: Browsing,
		},
		{
			name: "browsing requested but no tool call open",
			in: Inputs{
				HasSubmitted:      true,
				BrowsingRequested: true,
			},
			want: Queued,
		},
		{
			name: "tool call open without browsing requested",
			in: Inputs{
				HasSubmitted:      true,
				HasActiveToolCall: true,
			},
			want: Queued,
		},
		{
			name: "reasoning arriving",
			in: Inputs{
				HasSubmitted:        true,
				HasReasoningContent: true,
			},
			want: Thinking,
		},
		{
			name: "thinking model selected, no deltas yet",
			in: Inputs{
				HasSubmitted:  true,
				ThinkingModel: true,
			},
			want: Thinking,
		},
		{
			name: "reasoning wins over open tool call",
			in: Inputs{
				HasSubmitted:        true,
				BrowsingRequested:   true,
				HasActiveToolCall:   true,
				HasReasoningContent: true,
			},
			want: Thinking,
		},
		{
			name: "content beats everything",
			in: Inputs{
				HasSubmitted:        true,
				HasReceivedContent:  true,
				HasReasoningContent: true,
				HasActiveToolCall:   true,
				BrowsingRequested:   true,
				ThinkingModel:       true,
			},
			want: Responding,
		},
		{
			name: "responding while reasoning continues",
			in: Inputs{
				HasSubmitted:        true,
				HasReceivedContent:  true,
				HasReasoningContent: true,
			},
			want: Responding,
		},
		{
			name: "terminal success",
			in: Inputs{
				HasSubmitted:       true,
				HasReceivedContent: true,
				Terminal:           true,
			},
			want: Done,
		},
		{
			name: "terminal failure",
			in: Inputs{
				HasSubmitted: true,
				Terminal:     true,
				Failed:       true,
			},
			want: Error,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.in); got != tc.want {
				t.Errorf("Detect(%+v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDetect_Deterministic(t *testing.T) {
	// Same tuple twice must yield the same phase: Detect keeps no state.
	inputs := []Inputs{
		{},
		{HasSubmitted: true},
		{HasSubmitted: true, HasReasoningContent: true},
		{HasSubmitted: true, BrowsingRequested: true, HasActiveToolCall: true},
		{HasSubmitted: true, HasReceivedContent: true},
		{HasSubmitted: true, Terminal: true, Failed: true},
	}

	for _, in := range inputs {
		first := Detect(in)
		second := Detect(in)
		if first != second {
			t.Errorf("Detect(%+v) not deterministic: %q then %q", in, first, second)
		}
	}
}

func TestDetect_BrowsingScenario(t *testing.T) {
	// Browsing enabled: tool-call-started before any text or reasoning
	// delta reports Browsing, then the first text delta flips to Responding.
	in := Inputs{HasSubmitted: true, BrowsingRequested: true}

	if got := Detect(in); got != Queued {
		t.Errorf("before tool call: %q, want queued", got)
	}

	in.HasActiveToolCall = true
	if got := Detect(in); got != Browsing {
		t.Errorf("after tool call: %q, want browsing", got)
	}

	in.HasReceivedContent = true
	if got := Detect(in); got != Responding {
		t.Errorf("after first text delta: %q, want responding", got)
	}
}

// =============================================================================
// PROJECTION TESTS
// =============================================================================

func TestPhase_StatusText(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{Idle, ""},
		{Queued, "Waiting..."},
		{Thinking, "Thinking..."},
		{Browsing, "Browsing..."},
		{Responding, "Responding..."},
		{Done, ""},
		{Error, "Something went wrong"},
	}

	for _, tc := range tests {
		if got := tc.phase.StatusText(); got != tc.want {
			t.Errorf("%s.StatusText() = %q, want %q", tc.phase, got, tc.want)
		}
	}
}

func TestPhase_IsActive(t *testing.T) {
	active := []Phase{Queued, Thinking, Browsing, Responding}
	inactive := []Phase{Idle, Done, Error}

	for _, p := range active {
		if !p.IsActive() {
			t.Errorf("%s should be active", p)
		}
	}
	for _, p := range inactive {
		if p.IsActive() {
			t.Errorf("%s should not be active", p)
		}
	}
}

func TestShouldShowReasoningPanel(t *testing.T) {
	if !ShouldShowReasoningPanel(Thinking, false) {
		t.Error("panel shows while thinking even before reasoning text")
	}
	if !ShouldShowReasoningPanel(Responding, true) {
		t.Error("panel persists while responding when reasoning exists")
	}
	if ShouldShowReasoningPanel(Responding, false) {
		t.Error("no panel without reasoning outside thinking")
	}
	if ReasoningExpanded(Responding) {
		t.Error("panel collapses once content starts")
	}
	if !ReasoningExpanded(Thinking) {
		t.Error("panel expands while thinking")
	}
}
