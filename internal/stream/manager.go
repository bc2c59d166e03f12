// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/provider"
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager tracks the active session slot per thread. The slot is a shared
// mutable resource guarded by a single-writer discipline: starting a new
// session first evicts (cancels with partial save) the one holding the slot.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	gen       Generator
	persister Persister
	log       zerolog.Logger
	notify    func(threadID string)
}

// NewManager creates a session manager. notify fires after every applied
// delta and terminal transition of any session; nil is allowed.
func NewManager(gen Generator, persister Persister, log zerolog.Logger, notify func(threadID string)) *Manager {
	if notify == nil {
		notify = func(string) {}
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		gen:       gen,
		persister: persister,
		log:       log,
		notify:    notify,
	}
}

// Start begins a new generation for a thread. If the thread already has a
// live session it is cancelled with partial save first; only one streaming
// message per thread may exist.
func (m *Manager) Start(ctx context.Context, threadID string, identity model.Identity, req provider.Request) *Session {
	m.evict(threadID, true)

	session := newSession(threadID, identity, m.gen, m.persister, m.log, func() { m.notify(threadID) })

	m.mu.Lock()
	m.sessions[threadID] = session
	m.mu.Unlock()

	session.start(ctx, req)
	return session
}

// Resume re-attaches to a still-running server-side generation.
func (m *Manager) Resume(ctx context.Context, threadID string, identity model.Identity, token string, afterSeq int64) *Session {
	m.evict(threadID, true)

	session := newSession(threadID, identity, m.gen, m.persister, m.log, func() { m.notify(threadID) })

	m.mu.Lock()
	m.sessions[threadID] = session
	m.mu.Unlock()

	session.resume(ctx, token, afterSeq)
	return session
}

// Active returns the thread's session while it is live, nil otherwise.
func (m *Manager) Active(threadID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[threadID]
	if !ok || session.Status().IsTerminal() {
		return nil
	}
	return session
}

// Cancel stops the thread's active session, if any. Returns true if a live
// session was cancelled.
func (m *Manager) Cancel(threadID string, persistPartial bool) bool {
	return m.evict(threadID, persistPartial)
}

// Release drops a terminal session from the registry. The UI calls this
// after it has consumed the final state (id assignment, stats).
func (m *Manager) Release(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[threadID]; ok && session.Status().IsTerminal() {
		delete(m.sessions, threadID)
	}
}

// evict cancels and removes the thread's session. Blocks until the evicted
// session has fully torn down, preserving the happens-before between its
// flush and the successor's start.
func (m *Manager) evict(threadID string, persistPartial bool) bool {
	m.mu.Lock()
	session, ok := m.sessions[threadID]
	if ok {
		delete(m.sessions, threadID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	live := !session.Status().IsTerminal()
	if live {
		m.log.Debug().Str("thread", threadID).Msg("evicting active session")
	}
	session.Cancel(persistPartial)
	return live
}
