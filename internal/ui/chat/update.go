// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatstream/internal/controller"
	"github.com/jeranaias/chatstream/internal/export"
	"github.com/jeranaias/chatstream/internal/provider"
)

// =============================================================================
// UPDATE LOOP
// =============================================================================

// Update handles all Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.handleResize(msg.Width, msg.Height)

	case tea.KeyMsg:
		model, cmd, handled := m.handleKey(msg)
		if handled {
			return model, cmd
		}
		m = model

	case spinner.TickMsg:
		if m.streaming() {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}

	case activityMsg:
		m.refreshDisplay()
		if m.session != nil && m.session.Status().IsTerminal() {
			cmds = append(cmds, m.finishSession())
		}
		cmds = append(cmds, waitForActivity(m.updates))

	case sessionStartedMsg:
		m.session = msg.session
		m.err = nil
		m.notice = ""
		m.refreshDisplay()
		// The submit persisted the user message before the stream started;
		// reload so the transcript shows it while the answer streams.
		cmds = append(cmds, m.loadPersisted(), m.spin.Tick)

	case sessionIdleMsg:
		// Nothing was interrupted; stay idle.

	case persistedMsg:
		m.persisted = msg.messages
		m.refreshDisplay()

	case cancelledMsg:
		cmds = append(cmds, m.finishSession())

	case exportedMsg:
		m.notice = "exported to " + msg.path

	case ConfigReloadedMsg:
		m.applyConfig(msg.Config)

	case errMsg:
		m.handleError(msg.err)
	}

	// Forward remaining input to the focused components.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKey processes key bindings. Returns handled=false for keys that
// should fall through to the textarea.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keyMap.Quit):
		// An active stream is stopped with partial save before exit; Cancel
		// blocks until the flush settles.
		if m.streaming() {
			m.session.Cancel(true)
		}
		return m, tea.Quit, true

	case key.Matches(msg, m.keyMap.Submit):
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.streaming() {
			return m, nil, true
		}
		m.input.Reset()
		return m, m.sendCmd(text), true

	case key.Matches(msg, m.keyMap.Cancel):
		if !m.streaming() {
			return m, nil, true
		}
		return m, m.cancelCmd(), true

	case key.Matches(msg, m.keyMap.Retry):
		return m, m.retryCmd(), true

	case key.Matches(msg, m.keyMap.Export):
		return m, m.exportCmd(), true

	case key.Matches(msg, m.keyMap.Up), key.Matches(msg, m.keyMap.Down),
		key.Matches(msg, m.keyMap.PageUp), key.Matches(msg, m.keyMap.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd, true
	}
	return m, nil, false
}

// handleResize recomputes component dimensions.
// Layout: header (1) + transcript + input (3 + border) + status (1).
func (m *Model) handleResize(width, height int) {
	m.width = width
	m.height = height

	const fixedRows = 1 + 5 + 1
	vpHeight := height - fixedRows
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = newViewport(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.input.SetWidth(width - 4)
	m.renderTranscript()
}

// finishSession folds a terminal session back into persisted state: record
// the id assignment for the reconciler, surface errors, and reload the
// durable transcript.
func (m *Model) finishSession() tea.Cmd {
	s := m.session
	if s == nil {
		return nil
	}

	if prov, perm, ok := s.IDAssignment(); ok {
		m.reconciler.RecordIDAssignment(prov, perm)
	}
	if err := s.Err(); err != nil {
		m.handleError(err)
	}
	if s.FlushFailed() {
		// The partial exists only in memory now; keep it on screen so the
		// user can copy it out.
		m.notice = "could not save the answer - copy it before closing"
	}
	if stats := s.Stats(); stats != nil && stats.CompletionTokens > 0 {
		m.notice = formatStats(stats)
	}

	m.session = nil
	return m.loadPersisted()
}

// handleError converts engine errors into user-facing notices.
func (m *Model) handleError(err error) {
	switch {
	case errors.Is(err, provider.ErrQuotaExceeded):
		m.notice = "message limit reached - try again later"
	case errors.Is(err, controller.ErrRateLimited):
		m.notice = "sending too fast - give it a moment"
	case errors.Is(err, provider.ErrContentTooLarge):
		m.notice = "message too long for the model"
	case errors.Is(err, provider.ErrSessionCompleted):
		// The generation finished server-side; the reload shows its result.
	case errors.Is(err, controller.ErrNothingToRetry):
		m.notice = "nothing to retry yet"
	default:
		m.err = err
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) options() controller.Options {
	return controller.Options{
		Thinking: m.cfg.Provider.Thinking,
		Browsing: m.cfg.Provider.Browsing,
	}
}

// loadPersisted reloads the durable transcript.
func (m Model) loadPersisted() tea.Cmd {
	return func() tea.Msg {
		messages, err := m.source.GetThreadMessages(context.Background(), m.thread.ID, m.identity)
		if err != nil {
			return errMsg{err}
		}
		return persistedMsg{messages}
	}
}

// sendCmd submits a user message.
func (m Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		session, err := m.engine.Send(context.Background(), m.thread.ID, m.identity, text, m.options())
		if err != nil {
			return errMsg{err}
		}
		return sessionStartedMsg{session}
	}
}

// retryCmd regenerates the last assistant turn.
func (m Model) retryCmd() tea.Cmd {
	return func() tea.Msg {
		session, err := m.engine.Retry(context.Background(), m.thread.ID, m.identity, m.options())
		if err != nil {
			return errMsg{err}
		}
		return sessionStartedMsg{session}
	}
}

// resumeCmd re-attaches to an interrupted generation, if any.
func (m Model) resumeCmd() tea.Cmd {
	return func() tea.Msg {
		session, err := m.engine.Resume(context.Background(), m.thread.ID, m.identity)
		if err != nil {
			return errMsg{err}
		}
		if session == nil {
			return sessionIdleMsg{}
		}
		return sessionStartedMsg{session}
	}
}

// cancelCmd stops the active generation, keeping the partial. Cancel blocks
// until the flush settles, so it runs off the update loop.
func (m Model) cancelCmd() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		session.Cancel(true)
		return cancelledMsg{}
	}
}

// exportCmd writes the transcript to a markdown file in the working
// directory.
func (m Model) exportCmd() tea.Cmd {
	thread := m.thread
	messages := m.display
	return func() tea.Msg {
		dir, err := os.Getwd()
		if err != nil {
			return errMsg{err}
		}
		path, err := export.WriteMarkdown(thread, messages, dir)
		if err != nil {
			return errMsg{err}
		}
		return exportedMsg{path}
	}
}
