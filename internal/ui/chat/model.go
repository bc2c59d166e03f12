// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/controller"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/reconcile"
	"github.com/jeranaias/chatstream/internal/stream"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Engine is the controller subset the chat view drives.
type Engine interface {
	Send(ctx context.Context, threadID string, identity model.Identity, text string, opts controller.Options) (*stream.Session, error)
	Retry(ctx context.Context, threadID string, identity model.Identity, opts controller.Options) (*stream.Session, error)
	Resume(ctx context.Context, threadID string, identity model.Identity) (*stream.Session, error)
}

// MessageSource reads the persisted transcript.
type MessageSource interface {
	GetThreadMessages(ctx context.Context, threadID string, identity model.Identity) ([]*model.Message, error)
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	cfg *config.Config
	log zerolog.Logger

	engine  Engine
	source  MessageSource
	updates <-chan struct{}

	thread   *model.Thread
	identity model.Identity

	// Transcript state: the persisted snapshot plus the reconciler that
	// merges it with the live turn.
	persisted  []*model.Message
	reconciler *reconcile.Reconciler
	display    []*model.Message

	// The active generation, nil when idle.
	session *stream.Session

	// UI components
	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model
	keyMap   KeyMap
	markdown *glamour.TermRenderer

	width  int
	height int
	ready  bool

	// Transient status line override (export path, quota notice).
	notice string

	err error
}

// New creates the chat view for one thread. updates is the engine's activity
// channel; every session delta wakes the view through it.
func New(cfg *config.Config, thread *model.Thread, identity model.Identity, engine Engine, source MessageSource, updates <-chan struct{}, log zerolog.Logger) Model {
	input := textarea.New()
	input.Placeholder = "Send a message..."
	input.CharLimit = 0
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := Model{
		cfg:        cfg,
		log:        log,
		engine:     engine,
		source:     source,
		updates:    updates,
		thread:     thread,
		identity:   identity,
		reconciler: reconcile.New(),
		input:      input,
		spin:       spin,
		keyMap:     DefaultKeyMap(),
	}

	if cfg.UI.Markdown {
		// Renderer failure falls back to plain text.
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80)); err == nil {
			m.markdown = r
		}
	}
	return m
}

// Init loads the persisted transcript, arms the activity listener, and
// attempts to resume an interrupted generation.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadPersisted(),
		m.resumeCmd(),
		waitForActivity(m.updates),
		m.spin.Tick,
	)
}

// applyConfig folds a hot-reloaded configuration into the view. Only feature
// toggles apply live; structural settings (store path, identity) take effect
// on the next start.
func (m *Model) applyConfig(next *config.Config) {
	m.cfg.Provider.Thinking = next.Provider.Thinking
	m.cfg.Provider.Browsing = next.Provider.Browsing
	m.cfg.UI = next.UI

	if m.cfg.UI.Markdown && m.markdown == nil {
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80)); err == nil {
			m.markdown = r
		}
	}
	m.renderTranscript()
}

// streaming reports whether a generation is currently live.
func (m *Model) streaming() bool {
	return m.session != nil && !m.session.Status().IsTerminal()
}

// refreshDisplay recomputes the transcript from the persisted snapshot and
// the live turn. Slice identity decides whether the viewport re-renders.
func (m *Model) refreshDisplay() {
	var live *reconcile.LiveTurn
	if m.session != nil {
		live = m.session.LiveTurn()
	}
	next := m.reconciler.Reconcile(m.persisted, live)
	if sameSlice(next, m.display) {
		return
	}
	m.display = next
	m.renderTranscript()
}

// sameSlice compares slice identity, not contents; the reconciler guarantees
// reference stability for structurally equal inputs.
func sameSlice(a, b []*model.Message) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}
