// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType identifies one kind of incremental protocol event.
type EventType string

const (
	EventText       EventType = "text"
	EventReasoning  EventType = "reasoning"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Event is one incremental unit of model output.
//
// Seq is the provider-assigned sequence number, monotonically increasing per
// generation. Resume sends the highest applied Seq back so the server resends
// nothing before it.
type Event struct {
	Type EventType `json:"type"`
	Seq  int64     `json:"seq"`

	// Text or reasoning delta, depending on Type.
	Delta string `json:"delta,omitempty"`

	// Tool fields (EventToolCall / EventToolResult).
	CallID    string `json:"call_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`

	// Terminal fields.
	ErrorMessage string `json:"error,omitempty"`
	FinalContent string `json:"final_content,omitempty"` // EventDone after server-side completion

	// Usage, present on the done event.
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// IsTerminal returns true for events that end the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// EventCallback is invoked for each event in arrival order.
type EventCallback func(Event)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage is the wire form of one prior message in the request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one generation attempt.
type Request struct {
	ThreadID string        `json:"thread_id"`
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`

	// Feature toggles for this attempt.
	Thinking bool `json:"thinking,omitempty"`
	Browsing bool `json:"browsing,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// ResumeRequest re-attaches to a running generation.
type ResumeRequest struct {
	Token    string `json:"token"`
	AfterSeq int64  `json:"after_seq"`
}

// Response wraps one open generation stream. The caller owns Reader and must
// drain it; ResumeToken is durable for the lifetime of the server-side
// generation.
type Response struct {
	ResumeToken string
	Reader      *StreamReader
}

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// StreamStats holds timing collected while consuming a stream.
type StreamStats struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	PromptTokens     int
	CompletionTokens int

	TTFT            time.Duration
	TokensPerSecond float64
}

// NewStreamStats creates stats with the start time set.
func NewStreamStats() *StreamStats {
	return &StreamStats{StartTime: time.Now()}
}

// RecordFirstToken marks the time of first token arrival.
func (s *StreamStats) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes derived metrics from the done event.
func (s *StreamStats) Finalize(done Event) {
	s.EndTime = time.Now()
	s.PromptTokens = done.PromptTokens
	s.CompletionTokens = done.CompletionTokens

	elapsed := s.EndTime.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TokensPerSecond = float64(s.CompletionTokens) / elapsed
	}
}
