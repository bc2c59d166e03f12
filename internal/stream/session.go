// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/phase"
	"github.com/jeranaias/chatstream/internal/provider"
	"github.com/jeranaias/chatstream/internal/reconcile"
)

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status is the lifecycle state of one generation attempt.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true for the three end states.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Generator is the provider subset a session consumes.
type Generator interface {
	Start(ctx context.Context, req provider.Request) (*provider.Response, error)
	Resume(ctx context.Context, token string, afterSeq int64) (*provider.Response, error)
}

// Persister is the persistence-bridge subset a session flushes through.
type Persister interface {
	AppendMessage(ctx context.Context, threadID string, identity model.Identity, msg *model.Message) (string, error)
	SetResumeToken(ctx context.Context, threadID string, identity model.Identity, token string) error
	TakeResumeToken(ctx context.Context, threadID string, identity model.Identity) (string, error)
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one generation attempt. Created by the Manager, destroyed once
// it reaches a terminal status and its output has been flushed (or
// intentionally discarded).
type Session struct {
	threadID string
	identity model.Identity

	// Attempt configuration, fixed at start.
	thinkingModel bool
	browsing      bool

	gen       Generator
	persister Persister
	log       zerolog.Logger
	notify    func() // fired after every applied event and on terminal transitions

	cancelMgr *cancelManager

	mu          sync.Mutex
	status      Status
	message     *model.Message // the locally-accumulating assistant message
	lastSeq     int64
	resumeToken string
	err         error
	stats       *model.Statistics
	permanentID string // assigned by persistence on flush
	flushFailed bool   // partial kept in memory after a failed flush

	// persistOnCancel is read by the consumption goroutine during teardown.
	persistOnCancel bool

	done chan struct{} // closed when teardown is complete
}

// newSession wires a session; the Manager is the only constructor caller.
func newSession(threadID string, identity model.Identity, gen Generator, persister Persister, log zerolog.Logger, notify func()) *Session {
	if notify == nil {
		notify = func() {}
	}
	return &Session{
		threadID:  threadID,
		identity:  identity,
		gen:       gen,
		persister: persister,
		log:       log.With().Str("thread", threadID).Logger(),
		notify:    notify,
		cancelMgr: newCancelManager(),
		status:    StatusIdle,
		message:   model.NewAssistantMessage(),
		stats:     model.NewStatistics(),
		done:      make(chan struct{}),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// start submits the request and consumes the stream until terminal.
// Runs on the caller's goroutine only up to the submit; consumption happens
// on a dedicated goroutine.
func (s *Session) start(ctx context.Context, req provider.Request) {
	s.mu.Lock()
	s.thinkingModel = req.Thinking
	s.browsing = req.Browsing
	s.status = StatusSubmitted
	s.mu.Unlock()
	s.notify()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelMgr.set(cancel)

	go func() {
		resp, err := s.gen.Start(runCtx, req)
		if err != nil {
			s.finishWithError(err)
			return
		}
		s.attach(runCtx, resp)
		s.consume(runCtx, resp.Reader)
	}()
}

// resume re-attaches to a running server-side generation.
func (s *Session) resume(ctx context.Context, token string, afterSeq int64) {
	s.mu.Lock()
	s.status = StatusSubmitted
	s.resumeToken = token
	s.lastSeq = afterSeq
	s.mu.Unlock()
	s.notify()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelMgr.set(cancel)

	go func() {
		resp, err := s.gen.Resume(runCtx, token, afterSeq)
		if err != nil {
			s.finishWithError(err)
			return
		}
		s.attach(runCtx, resp)
		s.consume(runCtx, resp.Reader)
	}()
}

// attach records the resume token durably before any delta is applied, so a
// crash mid-stream still leaves a valid pointer behind.
func (s *Session) attach(ctx context.Context, resp *provider.Response) {
	s.mu.Lock()
	s.resumeToken = resp.ResumeToken
	s.mu.Unlock()

	if resp.ResumeToken != "" {
		if err := s.persister.SetResumeToken(ctx, s.threadID, s.identity, resp.ResumeToken); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist resume token")
		}
	}
}

// consume drains the event stream, applying deltas in arrival order.
func (s *Session) consume(ctx context.Context, reader *provider.StreamReader) {
	err := reader.Process(ctx, s.apply)

	switch {
	case err == nil:
		s.mu.Lock()
		failed := s.err != nil // an error event arrived on the stream
		s.mu.Unlock()
		if failed {
			s.teardown(StatusError, true)
			return
		}
		s.teardown(StatusDone, true)

	case errors.Is(err, context.Canceled):
		// Cooperative cancellation requested through Cancel.
		s.mu.Lock()
		persist := s.persistOnCancel
		s.mu.Unlock()
		s.teardown(StatusCancelled, persist)

	default:
		// Transport failure: keep whatever partial content arrived.
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("stream interrupted")
		s.teardown(StatusError, true)
	}
}

// apply folds one event into the local message. Runs on the consumption
// goroutine, strictly in arrival order.
func (s *Session) apply(event provider.Event) {
	s.mu.Lock()
	if event.Seq > s.lastSeq {
		s.lastSeq = event.Seq
	}
	if s.status == StatusSubmitted {
		s.status = StatusStreaming
	}

	switch event.Type {
	case provider.EventText:
		if s.message.DisplayContent() == "" && event.Delta != "" {
			s.stats.RecordFirstToken()
		}
		s.message.AppendContent(event.Delta)
	case provider.EventReasoning:
		s.message.AppendReasoning(event.Delta)
	case provider.EventToolCall:
		state := model.ToolCallPartial
		if event.Arguments != "" {
			state = model.ToolCallReady
		}
		s.message.UpsertToolCall(model.ToolCall{
			CallID:    event.CallID,
			Name:      event.ToolName,
			Arguments: event.Arguments,
			State:     state,
		})
	case provider.EventToolResult:
		s.message.UpsertToolCall(model.ToolCall{
			CallID: event.CallID,
			Result: event.Result,
			State:  model.ToolCallResult,
		})
	case provider.EventError:
		s.err = &provider.StreamError{
			Partial: s.message.DisplayContent(),
			Err:     errors.New(event.ErrorMessage),
		}
	case provider.EventDone:
		if event.FinalContent != "" && s.message.DisplayContent() == "" {
			// Resumed after server-side completion: the final content
			// arrives whole instead of as deltas.
			s.message.AppendContent(event.FinalContent)
		}
		s.stats.Finalize(event.CompletionTokens)
	}
	s.mu.Unlock()

	s.notify()
}

// finishWithError records a submit-time failure (no stream ever opened).
func (s *Session) finishWithError(err error) {
	if errors.Is(err, context.Canceled) {
		// Cancelled before the provider answered; nothing to persist.
		s.teardown(StatusCancelled, false)
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.log.Warn().Err(err).Msg("generation failed to start")
	s.teardown(StatusError, false)
}

// teardown flushes (when asked and there is content), clears the resume
// token, and moves to the terminal status. The terminal notify fires only
// after the flush completed, so callers observing a terminal status can rely
// on persistence being settled.
func (s *Session) teardown(terminal Status, persist bool) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.message.FinalizeStream(s.stats)
	flushable := persist && (s.message.Content != "" || s.message.Reasoning != "" || len(s.message.ToolCalls) > 0)
	msg := s.message
	s.mu.Unlock()

	// Teardown must finish even though the run context is already
	// cancelled, so persistence gets a fresh context.
	ctx := context.Background()

	if flushable {
		permanentID, err := s.persister.AppendMessage(ctx, s.threadID, s.identity, msg)
		s.mu.Lock()
		if err != nil {
			// The partial stays in memory; PartialContent exposes it.
			s.flushFailed = true
			s.mu.Unlock()
			s.log.Error().Err(err).Msg("failed to flush generation output")
		} else {
			s.permanentID = permanentID
			s.mu.Unlock()
		}
	}

	if _, err := s.persister.TakeResumeToken(ctx, s.threadID, s.identity); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear resume token")
	}

	s.mu.Lock()
	s.status = terminal
	s.mu.Unlock()

	close(s.done)
	s.notify()
}

// Cancel stops consumption. With persistPartial, accumulated output is
// flushed as a completed message before Cancel returns, so the caller can
// report success without losing tokens. Safe to call on a finished session.
func (s *Session) Cancel(persistPartial bool) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.persistOnCancel = persistPartial
	started := s.status != StatusIdle
	s.mu.Unlock()

	s.cancelMgr.cancel()

	if !started {
		s.teardown(StatusCancelled, false)
		return
	}
	<-s.done
}

// Wait blocks until the session reaches a terminal status.
func (s *Session) Wait() {
	<-s.done
}

// =============================================================================
// OBSERVATION
// =============================================================================

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ThreadID returns the owning thread.
func (s *Session) ThreadID() string {
	return s.threadID
}

// ResumeToken returns the durable generation pointer, if one was issued.
func (s *Session) ResumeToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeToken
}

// LastSeq returns the highest applied event sequence number.
func (s *Session) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// IDAssignment returns the provisional and permanent ids once persistence
// assigned one; the reconciler records the pair to rewrite references.
func (s *Session) IDAssignment() (provisionalID, permanentID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permanentID == "" {
		return "", "", false
	}
	return s.message.ID, s.permanentID, true
}

// PartialContent returns the accumulated content. After a failed flush this
// is the only remaining copy, offered to the user as copyable text.
func (s *Session) PartialContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message.DisplayContent()
}

// FlushFailed reports whether the final flush failed and the partial is
// memory-only.
func (s *Session) FlushFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushFailed
}

// LiveTurn snapshots the in-flight message for the reconciler.
func (s *Session) LiveTurn() *reconcile.LiveTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return nil
	}
	turn := &reconcile.LiveTurn{
		MessageID: s.message.ID,
		Content:   s.message.DisplayContent(),
		Reasoning: s.message.DisplayReasoning(),
	}
	if len(s.message.ToolCalls) > 0 {
		turn.ToolCalls = append([]model.ToolCall(nil), s.message.ToolCalls...)
	}
	return turn
}

// PhaseInputs snapshots the tuple the phase detector consumes. Evaluated on
// every notify, never polled.
func (s *Session) PhaseInputs() phase.Inputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return phase.Inputs{
		HasSubmitted:        s.status != StatusIdle,
		Terminal:            s.status.IsTerminal(),
		Failed:              s.status == StatusError,
		HasReceivedContent:  s.message.DisplayContent() != "",
		HasReasoningContent: s.message.DisplayReasoning() != "",
		HasActiveToolCall:   s.message.HasOpenToolCall(),
		ThinkingModel:       s.thinkingModel,
		BrowsingRequested:   s.browsing,
	}
}

// Phase classifies the session's current semantic phase.
func (s *Session) Phase() phase.Phase {
	return phase.Detect(s.PhaseInputs())
}

// Stats returns the generation statistics collected so far.
func (s *Session) Stats() *model.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
