// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads, messages, and
// quota identities.
package model

import (
	"time"
)

// MaxMessages is the maximum number of messages to keep in thread history.
// When exceeded, old messages are pruned to prevent unbounded memory growth.
const MaxMessages = 1000

// =============================================================================
// VISIBILITY TYPE
// =============================================================================

// Visibility controls who can read a thread.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// =============================================================================
// THREAD TYPE
// =============================================================================

// Thread holds a complete conversation with history and metadata.
//
// Invariant: at most one message in a thread is streaming at any time. A new
// generation must evict the previous one before appending its own streaming
// message; StreamingCount exists so tests can assert this.
type Thread struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []*Message `json:"messages"`

	// Model configuration
	Model string `json:"model"`

	// Ownership and visibility
	Owner      Identity   `json:"owner"`
	Visibility Visibility `json:"visibility"`

	// ResumeToken points at an in-progress server-side generation, if any.
	// Stored with the thread so a reload can re-attach to the stream.
	ResumeToken string `json:"resume_token,omitempty"`
}

// NewThread creates a new thread owned by the given identity.
func NewThread(owner Identity, modelID string) *Thread {
	now := time.Now()
	return &Thread{
		ID:         GenerateThreadID(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Messages:   make([]*Message, 0),
		Model:      modelID,
		Owner:      owner,
		Visibility: VisibilityPrivate,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message to the thread.
func (t *Thread) AddMessage(msg *Message) {
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = time.Now()
	t.updateTitle()
	t.pruneOldMessages()
}

// AddUserMessage creates and appends a user message.
func (t *Thread) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	t.AddMessage(msg)
	return msg
}

// AddAssistantMessage creates and appends a streaming assistant message.
func (t *Thread) AddAssistantMessage() *Message {
	msg := NewAssistantMessage()
	t.AddMessage(msg)
	return msg
}

// LastMessage returns the most recent message, or nil if empty.
func (t *Thread) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	return t.Messages[len(t.Messages)-1]
}

// LastAssistantMessage returns the most recent assistant message.
func (t *Thread) LastAssistantMessage() *Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleAssistant {
			return t.Messages[i]
		}
	}
	return nil
}

// LastUserMessage returns the most recent user message.
func (t *Thread) LastUserMessage() *Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleUser {
			return t.Messages[i]
		}
	}
	return nil
}

// MessageByID returns a message by its ID, or nil.
func (t *Thread) MessageByID(id string) *Message {
	for _, msg := range t.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// RemoveMessage removes a message by ID. Returns true if found.
func (t *Thread) RemoveMessage(id string) bool {
	for i, msg := range t.Messages {
		if msg.ID == id {
			t.Messages = append(t.Messages[:i], t.Messages[i+1:]...)
			t.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// StreamingCount returns the number of messages currently streaming.
// Correct threads never exceed one.
func (t *Thread) StreamingCount() int {
	count := 0
	for _, msg := range t.Messages {
		if msg.IsStreaming {
			count++
		}
	}
	return count
}

// MessageCount returns the number of messages.
func (t *Thread) MessageCount() int {
	return len(t.Messages)
}

// IsEmpty returns true if there are no messages.
func (t *Thread) IsEmpty() bool {
	return len(t.Messages) == 0
}

// =============================================================================
// HISTORY SEEDING
// =============================================================================

// HistoryThroughLastUser returns the messages up to and including the last
// user message. Retry seeds the replacement generation with this slice so the
// discarded assistant turn never reaches the provider.
func (t *Thread) HistoryThroughLastUser() []*Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleUser {
			history := make([]*Message, i+1)
			copy(history, t.Messages[:i+1])
			return history
		}
	}
	return nil
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// updateTitle auto-generates a title from the first user message if not set.
func (t *Thread) updateTitle() {
	if t.Title != "" {
		return
	}
	for _, msg := range t.Messages {
		if msg.Role == RoleUser {
			t.Title = msg.Preview(50)
			return
		}
	}
}

// SetTitle manually sets the thread title.
func (t *Thread) SetTitle(title string) {
	t.Title = title
	t.UpdatedAt = time.Now()
}

// GetTitle returns the thread title or a default.
func (t *Thread) GetTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return "New conversation"
}

// =============================================================================
// RESUME TOKEN
// =============================================================================

// SetResumeToken records the active server-side generation pointer.
func (t *Thread) SetResumeToken(token string) {
	t.ResumeToken = token
	t.UpdatedAt = time.Now()
}

// ClearResumeToken removes the generation pointer after flush or teardown.
func (t *Thread) ClearResumeToken() {
	t.ResumeToken = ""
	t.UpdatedAt = time.Now()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GenerateThreadID creates a unique thread ID.
func GenerateThreadID() string {
	return "thr_" + randomHex(8)
}

// pruneOldMessages removes old messages when history exceeds MaxMessages.
// Keeps system messages and the most recent MaxMessages others.
func (t *Thread) pruneOldMessages() {
	if len(t.Messages) <= MaxMessages {
		return
	}

	var systemMessages []*Message
	var otherMessages []*Message
	for _, msg := range t.Messages {
		if msg.Role == RoleSystem {
			systemMessages = append(systemMessages, msg)
		} else {
			otherMessages = append(otherMessages, msg)
		}
	}

	if len(otherMessages) > MaxMessages {
		otherMessages = otherMessages[len(otherMessages)-MaxMessages:]
	}

	t.Messages = make([]*Message, 0, len(systemMessages)+len(otherMessages))
	t.Messages = append(t.Messages, systemMessages...)
	t.Messages = append(t.Messages, otherMessages...)
}
