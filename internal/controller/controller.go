// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/provider"
	"github.com/jeranaias/chatstream/internal/quota"
	"github.com/jeranaias/chatstream/internal/stream"
)

// ErrNothingToRetry is returned when a thread has no user message to seed a
// replacement generation with.
var ErrNothingToRetry = errors.New("controller: no user message to retry from")

// ErrRateLimited is returned when the quota gate throttles a burst. Unlike
// quota exhaustion the condition clears on its own moments later.
var ErrRateLimited = errors.New("controller: sending too fast")

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Quota is the gate subset the controller consults before submitting.
type Quota interface {
	TryConsume(identity model.Identity) quota.Decision
}

// Store is the persistence-bridge subset the controller reads and writes.
type Store interface {
	GetThread(ctx context.Context, threadID string, identity model.Identity) (*model.Thread, error)
	GetThreadMessages(ctx context.Context, threadID string, identity model.Identity) ([]*model.Message, error)
	AppendMessage(ctx context.Context, threadID string, identity model.Identity, msg *model.Message) (string, error)
	DeleteLastAssistantMessage(ctx context.Context, threadID string, identity model.Identity) error
	UpdateThreadTitle(ctx context.Context, threadID string, identity model.Identity, title string) error
	TakeResumeToken(ctx context.Context, threadID string, identity model.Identity) (string, error)
}

// Sessions is the manager subset the controller drives.
type Sessions interface {
	Start(ctx context.Context, threadID string, identity model.Identity, req provider.Request) *stream.Session
	Resume(ctx context.Context, threadID string, identity model.Identity, token string, afterSeq int64) *stream.Session
	Cancel(threadID string, persistPartial bool) bool
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller sequences send, retry, and resume on top of the session manager
// and the persistence bridge.
type Controller struct {
	quota    Quota
	store    Store
	sessions Sessions
	log      zerolog.Logger
}

// Options are the per-submission feature toggles.
type Options struct {
	Thinking bool
	Browsing bool
}

// New creates a controller.
func New(quota Quota, store Store, sessions Sessions, log zerolog.Logger) *Controller {
	return &Controller{
		quota:    quota,
		store:    store,
		sessions: sessions,
		log:      log,
	}
}

// =============================================================================
// SEND
// =============================================================================

// Send persists the user's message and starts a generation for the thread.
// The quota gate is consulted first; on rejection nothing is persisted and
// nothing starts. Quota is checked only at submission, so a generation in
// flight is never aborted by a window rollover.
func (c *Controller) Send(ctx context.Context, threadID string, identity model.Identity, text string, opts Options) (*stream.Session, error) {
	if err := admissionErr(c.quota.TryConsume(identity)); err != nil {
		return nil, err
	}

	thread, err := c.store.GetThread(ctx, threadID, identity)
	if err != nil {
		return nil, err
	}

	userMsg := model.NewUserMessage(text)
	if _, err := c.store.AppendMessage(ctx, threadID, identity, userMsg); err != nil {
		return nil, err
	}

	// First user message titles the thread. Title failure never blocks the
	// send.
	if thread.Title == "" {
		if err := c.store.UpdateThreadTitle(ctx, threadID, identity, userMsg.Preview(50)); err != nil {
			c.log.Warn().Err(err).Str("thread", threadID).Msg("failed to set thread title")
		}
	}

	history, err := c.store.GetThreadMessages(ctx, threadID, identity)
	if err != nil {
		return nil, err
	}

	return c.submit(ctx, thread, identity, history, opts), nil
}

// =============================================================================
// RETRY
// =============================================================================

// Retry replaces the last assistant turn: cancel any active session without
// persisting its partial, delete the last persisted assistant message, and
// resubmit seeded with history through the last user message. Cleanup and
// resubmission always run even when the earlier steps find nothing to do;
// deletion failure is non-fatal.
func (c *Controller) Retry(ctx context.Context, threadID string, identity model.Identity, opts Options) (*stream.Session, error) {
	if err := admissionErr(c.quota.TryConsume(identity)); err != nil {
		return nil, err
	}

	// Step 1: the discarded attempt must not be saved.
	c.sessions.Cancel(threadID, false)

	// Step 2: drop the persisted attempt. A concurrent removal is fine.
	if err := c.store.DeleteLastAssistantMessage(ctx, threadID, identity); err != nil {
		c.log.Warn().Err(err).Str("thread", threadID).Msg("retry cleanup: delete last assistant message")
	}

	// Step 3: resubmit.
	thread, err := c.store.GetThread(ctx, threadID, identity)
	if err != nil {
		return nil, err
	}
	messages, err := c.store.GetThreadMessages(ctx, threadID, identity)
	if err != nil {
		return nil, err
	}
	thread.Messages = messages

	history := thread.HistoryThroughLastUser()
	if len(history) == 0 {
		return nil, ErrNothingToRetry
	}

	return c.submit(ctx, thread, identity, history, opts), nil
}

// =============================================================================
// RESUME
// =============================================================================

// Resume re-attaches to an interrupted generation after a reload. Returns
// (nil, nil) when the thread has no active resume token. When the server
// reports the generation already finished, the resumed stream is a single
// done event carrying the final content, which flushes through the normal
// teardown path.
func (c *Controller) Resume(ctx context.Context, threadID string, identity model.Identity) (*stream.Session, error) {
	token, err := c.store.TakeResumeToken(ctx, threadID, identity)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	c.log.Info().Str("thread", threadID).Msg("resuming interrupted generation")

	// Local state was lost with the process, so the offset starts at zero
	// and the server resends the whole delta sequence.
	return c.sessions.Resume(ctx, threadID, identity, token, 0), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// admissionErr maps a gate decision to the caller-facing error, if any.
func admissionErr(d quota.Decision) error {
	switch d {
	case quota.Exhausted:
		return provider.ErrQuotaExceeded
	case quota.Throttled:
		return ErrRateLimited
	default:
		return nil
	}
}

// submit builds the provider request and hands it to the session manager.
func (c *Controller) submit(ctx context.Context, thread *model.Thread, identity model.Identity, history []*model.Message, opts Options) *stream.Session {
	req := provider.Request{
		ThreadID: thread.ID,
		Model:    thread.Model,
		Messages: toWire(history),
		Thinking: opts.Thinking,
		Browsing: opts.Browsing,
	}
	return c.sessions.Start(ctx, thread.ID, identity, req)
}

// toWire converts stored messages to their request form.
func toWire(messages []*model.Message) []provider.ChatMessage {
	wire := make([]provider.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		content := msg.DisplayContent()
		if content == "" {
			continue
		}
		wire = append(wire, provider.ChatMessage{
			Role:    string(msg.Role),
			Content: content,
		})
	}
	return wire
}
