// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads, messages, and
// quota identities.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// TOOL CALL TYPE
// =============================================================================

// ToolCallState tracks the lifecycle of one tool invocation.
type ToolCallState string

const (
	ToolCallPartial ToolCallState = "partial-call"
	ToolCallReady   ToolCallState = "call"
	ToolCallResult  ToolCallState = "result"
)

// ToolCall records one tool invocation attached to an assistant message.
type ToolCall struct {
	CallID    string        `json:"call_id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments,omitempty"`
	Result    string        `json:"result,omitempty"`
	State     ToolCallState `json:"state"`
}

// IsOpen returns true while the call has not produced a result yet.
func (tc ToolCall) IsOpen() bool {
	return tc.State != ToolCallResult
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a thread.
//
// The ID is stable once persisted. Before persistence assigns one, the
// message carries a provisional ID (see NewProvisionalID); the reconciler
// rewrites provisional references to the permanent ID exactly once.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content. Frozen once persisted; grows only via the streaming buffers.
	Content string `json:"content"`

	// Reasoning is the optional "thinking" trace, kept separate from the
	// answer text so the two can grow and render independently.
	Reasoning string `json:"reasoning,omitempty"`

	// ToolCalls are the tool invocations made during this turn, in call order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Attachments are ordered references to uploaded files (opaque here).
	Attachments []string `json:"attachments,omitempty"`

	// Streaming state (not persisted).
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming     bool            `json:"-"`
	streamContent   strings.Builder `json:"-"`
	streamReasoning strings.Builder `json:"-"`

	// Generation statistics (for assistant messages).
	TokenCount    int           `json:"token_count,omitempty"`
	TTFT          time.Duration `json:"ttft_ns,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty"`
	TokensPerSec  float64       `json:"tokens_per_sec,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        GenerateMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new streaming assistant message carrying a
// provisional ID. Persistence assigns the permanent ID on flush.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          NewProvisionalID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// =============================================================================
// STREAMING METHODS
// =============================================================================

// AppendContent appends a text delta to a streaming message.
func (m *Message) AppendContent(delta string) {
	if m.IsStreaming {
		m.streamContent.WriteString(delta)
	}
}

// AppendReasoning appends a reasoning delta to a streaming message.
func (m *Message) AppendReasoning(delta string) {
	if m.IsStreaming {
		m.streamReasoning.WriteString(delta)
	}
}

// UpsertToolCall merges a tool-call record by CallID, appending when unseen.
// State only moves forward: a result never regresses to a partial call.
func (m *Message) UpsertToolCall(tc ToolCall) {
	for i := range m.ToolCalls {
		if m.ToolCalls[i].CallID == tc.CallID {
			if tc.Name != "" {
				m.ToolCalls[i].Name = tc.Name
			}
			if tc.Arguments != "" {
				m.ToolCalls[i].Arguments = tc.Arguments
			}
			if tc.Result != "" {
				m.ToolCalls[i].Result = tc.Result
			}
			if toolStateRank(tc.State) > toolStateRank(m.ToolCalls[i].State) {
				m.ToolCalls[i].State = tc.State
			}
			return
		}
	}
	m.ToolCalls = append(m.ToolCalls, tc)
}

// HasOpenToolCall returns true if any tool call has not produced a result.
func (m *Message) HasOpenToolCall() bool {
	for _, tc := range m.ToolCalls {
		if tc.IsOpen() {
			return true
		}
	}
	return false
}

// FinalizeStream freezes the streaming buffers into Content/Reasoning and
// records generation statistics.
func (m *Message) FinalizeStream(stats *Statistics) {
	if !m.IsStreaming {
		return
	}

	m.Content = m.streamContent.String()
	m.Reasoning = m.streamReasoning.String()
	m.streamContent.Reset()
	m.streamReasoning.Reset()
	m.IsStreaming = false

	if stats != nil {
		m.TTFT = stats.TTFT
		m.TotalDuration = stats.TotalDuration
		m.TokenCount = stats.CompletionTokens
		m.TokensPerSec = stats.TokensPerSecond
	}
}

// DisplayContent returns the content to display (streaming or final).
func (m *Message) DisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// DisplayReasoning returns the reasoning trace to display.
func (m *Message) DisplayReasoning() string {
	if m.IsStreaming {
		return m.streamReasoning.String()
	}
	return m.Reasoning
}

// IsEmpty returns true if the message has no visible content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := m.DisplayContent()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// EstimateTokens gives a rough estimate of token count (~4 chars per token).
func (m *Message) EstimateTokens() int {
	return (len(m.DisplayContent()) + 3) / 4
}

// Clone returns a copy of the message with the streaming buffers flattened
// into plain fields. The clone is safe to hand to other goroutines.
func (m *Message) Clone() *Message {
	clone := &Message{
		ID:            m.ID,
		Role:          m.Role,
		Timestamp:     m.Timestamp,
		Content:       m.DisplayContent(),
		Reasoning:     m.DisplayReasoning(),
		IsStreaming:   m.IsStreaming,
		TokenCount:    m.TokenCount,
		TTFT:          m.TTFT,
		TotalDuration: m.TotalDuration,
		TokensPerSec:  m.TokensPerSec,
	}
	if len(m.ToolCalls) > 0 {
		clone.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if len(m.Attachments) > 0 {
		clone.Attachments = append([]string(nil), m.Attachments...)
	}
	return clone
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing and token count information for a generation.
type Statistics struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	PromptTokens     int
	CompletionTokens int

	// Derived metrics (computed on Finalize)
	TTFT            time.Duration
	TotalDuration   time.Duration
	TokensPerSecond float64
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// RecordFirstToken records when the first token was received.
func (s *Statistics) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes the final statistics.
func (s *Statistics) Finalize(tokenCount int) {
	s.EndTime = time.Now()
	s.CompletionTokens = tokenCount
	s.TotalDuration = s.EndTime.Sub(s.StartTime)

	if s.TotalDuration > 0 {
		s.TokensPerSecond = float64(tokenCount) / s.TotalDuration.Seconds()
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

const provisionalPrefix = "tmp_"

// GenerateMessageID creates a unique, persistence-grade message ID.
func GenerateMessageID() string {
	return "msg_" + randomHex(8)
}

// NewProvisionalID creates a locally-generated ID for a message that has not
// been persisted yet. IsProvisionalID recognizes these.
func NewProvisionalID() string {
	return provisionalPrefix + randomHex(8)
}

// IsProvisionalID reports whether id was generated locally by
// NewProvisionalID rather than assigned by persistence.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

func randomHex(n int) string {
	bytes := make([]byte, n)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func toolStateRank(s ToolCallState) int {
	switch s {
	case ToolCallPartial:
		return 0
	case ToolCallReady:
		return 1
	case ToolCallResult:
		return 2
	default:
		return -1
	}
}
