// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/provider"
	"github.com/jeranaias/chatstream/internal/quota"
	"github.com/jeranaias/chatstream/internal/stream"
)

// =============================================================================
// TEST FAKES
// =============================================================================

type fakeQuota struct {
	decision quota.Decision
	consumed int
}

func (q *fakeQuota) TryConsume(model.Identity) quota.Decision {
	q.consumed++
	return q.decision
}

// fakeStore is an in-memory persistence bridge recording call order.
type fakeStore struct {
	thread   *model.Thread
	messages []*model.Message
	token    string

	deleteErr error
	calls     []string
}

func (s *fakeStore) GetThread(ctx context.Context, threadID string, identity model.Identity) (*model.Thread, error) {
	s.calls = append(s.calls, "get-thread")
	return s.thread, nil
}

func (s *fakeStore) GetThreadMessages(ctx context.Context, threadID string, identity model.Identity) ([]*model.Message, error) {
	s.calls = append(s.calls, "get-messages")
	return append([]*model.Message(nil), s.messages...), nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, threadID string, identity model.Identity, msg *model.Message) (string, error) {
	s.calls = append(s.calls, "append")
	s.messages = append(s.messages, msg)
	return model.GenerateMessageID(), nil
}

func (s *fakeStore) DeleteLastAssistantMessage(ctx context.Context, threadID string, identity model.Identity) error {
	s.calls = append(s.calls, "delete-last-assistant")
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == model.RoleAssistant {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return errors.New("no assistant message")
}

func (s *fakeStore) UpdateThreadTitle(ctx context.Context, threadID string, identity model.Identity, title string) error {
	s.calls = append(s.calls, "update-title")
	s.thread.Title = title
	return nil
}

func (s *fakeStore) TakeResumeToken(ctx context.Context, threadID string, identity model.Identity) (string, error) {
	s.calls = append(s.calls, "take-token")
	t := s.token
	s.token = ""
	return t, nil
}

// recorderSessions captures manager calls without running real streams.
type recorderSessions struct {
	started   []provider.Request
	cancelled []bool
	resumed   []string
	afterSeqs []int64
}

func (r *recorderSessions) Start(ctx context.Context, threadID string, identity model.Identity, req provider.Request) *stream.Session {
	r.started = append(r.started, req)
	return nil
}

func (r *recorderSessions) Resume(ctx context.Context, threadID string, identity model.Identity, token string, afterSeq int64) *stream.Session {
	r.resumed = append(r.resumed, token)
	r.afterSeqs = append(r.afterSeqs, afterSeq)
	return nil
}

func (r *recorderSessions) Cancel(threadID string, persistPartial bool) bool {
	r.cancelled = append(r.cancelled, persistPartial)
	return false
}

func newFixture(decision quota.Decision) (*Controller, *fakeQuota, *fakeStore, *recorderSessions) {
	gate := &fakeQuota{decision: decision}
	store := &fakeStore{thread: model.NewThread(model.AnonymousIdentity("device-1"), "nimbus-1")}
	sessions := &recorderSessions{}
	c := New(gate, store, sessions, zerolog.Nop())
	return c, gate, store, sessions
}

var testIdentity = model.AnonymousIdentity("device-1")

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSendQuotaRejected(t *testing.T) {
	c, _, store, sessions := newFixture(quota.Exhausted)

	_, err := c.Send(context.Background(), "th_1", testIdentity, "hello", Options{})
	if !errors.Is(err, provider.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if len(store.messages) != 0 {
		t.Error("user message persisted despite quota rejection")
	}
	if len(sessions.started) != 0 {
		t.Error("session started despite quota rejection")
	}
}

func TestSendPersistsBeforeStarting(t *testing.T) {
	c, gate, store, sessions := newFixture(quota.Granted)

	_, err := c.Send(context.Background(), store.thread.ID, testIdentity, "What is Go?", Options{Thinking: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gate.consumed != 1 {
		t.Errorf("quota consumed %d times, want 1", gate.consumed)
	}
	if len(store.messages) != 1 || store.messages[0].Role != model.RoleUser {
		t.Fatalf("messages = %+v, want one user message", store.messages)
	}

	if len(sessions.started) != 1 {
		t.Fatalf("started %d sessions, want 1", len(sessions.started))
	}
	req := sessions.started[0]
	if !req.Thinking {
		t.Error("Thinking toggle not forwarded")
	}
	if req.Model != "nimbus-1" {
		t.Errorf("Model = %q, want nimbus-1", req.Model)
	}
	// The request history includes the just-persisted user message, so the
	// append landed before the stream started.
	if len(req.Messages) != 1 || req.Messages[0].Content != "What is Go?" {
		t.Errorf("request messages = %+v, want the user message", req.Messages)
	}
}

func TestSendThrottledIsNotQuotaExceeded(t *testing.T) {
	c, _, store, sessions := newFixture(quota.Throttled)

	_, err := c.Send(context.Background(), "th_1", testIdentity, "hello", Options{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if errors.Is(err, provider.ErrQuotaExceeded) {
		t.Error("throttling must stay distinguishable from quota exhaustion")
	}
	if len(store.messages) != 0 || len(sessions.started) != 0 {
		t.Error("throttled send must persist nothing and start nothing")
	}
}

func TestSendTitlesThreadFromFirstMessage(t *testing.T) {
	c, _, store, _ := newFixture(quota.Granted)

	longText := "This first user message is well over fifty characters long and gets truncated"
	if _, err := c.Send(context.Background(), store.thread.ID, testIdentity, longText, Options{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if store.thread.Title == "" {
		t.Fatal("thread title not set from first message")
	}
	if got := len([]rune(store.thread.Title)); got > 50 {
		t.Errorf("title length = %d runes, want <= 50", got)
	}

	// A second send must not retitle.
	title := store.thread.Title
	if _, err := c.Send(context.Background(), store.thread.ID, testIdentity, "another question", Options{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if store.thread.Title != title {
		t.Errorf("title changed on second send: %q -> %q", title, store.thread.Title)
	}
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestRetryReplacesLastAssistantTurn(t *testing.T) {
	c, _, store, sessions := newFixture(quota.Granted)
	store.messages = []*model.Message{
		model.NewUserMessage("first question"),
		model.NewMessage(model.RoleAssistant, "bad answer"),
	}
	before := len(store.messages)

	_, err := c.Retry(context.Background(), store.thread.ID, testIdentity, Options{})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}

	// Cancel ran first and without persisting the discarded partial.
	if len(sessions.cancelled) != 1 || sessions.cancelled[0] {
		t.Fatalf("cancelled = %v, want one cancel without persist", sessions.cancelled)
	}
	// The last assistant message is gone and a new generation started.
	if len(store.messages) != before-1 {
		t.Errorf("messages = %d, want %d after cleanup", len(store.messages), before-1)
	}
	if len(sessions.started) != 1 {
		t.Fatalf("started %d sessions, want 1", len(sessions.started))
	}
	req := sessions.started[0]
	if len(req.Messages) != 1 || req.Messages[0].Content != "first question" {
		t.Errorf("retry seeded with %+v, want history through the last user message", req.Messages)
	}
}

func TestRetryDeletionFailureIsNonFatal(t *testing.T) {
	c, _, store, sessions := newFixture(quota.Granted)
	store.messages = []*model.Message{model.NewUserMessage("question")}
	store.deleteErr = errors.New("row vanished")

	_, err := c.Retry(context.Background(), store.thread.ID, testIdentity, Options{})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(sessions.started) != 1 {
		t.Fatal("resubmission skipped after deletion failure")
	}
}

func TestRetryWithoutUserMessage(t *testing.T) {
	c, _, store, sessions := newFixture(quota.Granted)

	_, err := c.Retry(context.Background(), store.thread.ID, testIdentity, Options{})
	if !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("err = %v, want ErrNothingToRetry", err)
	}
	if len(sessions.started) != 0 {
		t.Error("session started with nothing to retry")
	}
}

func TestRetryQuotaRejected(t *testing.T) {
	c, _, store, sessions := newFixture(quota.Exhausted)
	store.messages = []*model.Message{
		model.NewUserMessage("question"),
		model.NewMessage(model.RoleAssistant, "answer"),
	}

	_, err := c.Retry(context.Background(), store.thread.ID, testIdentity, Options{})
	if !errors.Is(err, provider.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	// Rejected retries leave the transcript untouched.
	if len(store.messages) != 2 {
		t.Errorf("messages = %d after rejected retry, want 2", len(store.messages))
	}
	if len(sessions.cancelled) != 0 {
		t.Error("active session cancelled despite quota rejection")
	}
}

// =============================================================================
// RESUME TESTS
// =============================================================================

func TestResumeWithoutToken(t *testing.T) {
	c, _, _, sessions := newFixture(quota.Granted)

	s, err := c.Resume(context.Background(), "th_1", testIdentity)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s != nil {
		t.Error("session returned with no resume token")
	}
	if len(sessions.resumed) != 0 {
		t.Error("provider resume called with no token")
	}
}

func TestResumeWithToken(t *testing.T) {
	c, _, store, sessions := newFixture(quota.Granted)
	store.token = "gen_live"

	_, err := c.Resume(context.Background(), "th_1", testIdentity)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(sessions.resumed) != 1 || sessions.resumed[0] != "gen_live" {
		t.Fatalf("resumed = %v, want the stored token", sessions.resumed)
	}
	if sessions.afterSeqs[0] != 0 {
		t.Errorf("afterSeq = %d, want 0 after process restart", sessions.afterSeqs[0])
	}
	// The token is taken exactly once.
	if store.token != "" {
		t.Error("resume token not cleared by take")
	}
}
