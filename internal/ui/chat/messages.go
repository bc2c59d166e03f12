// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/stream"
)

// =============================================================================
// TEA MESSAGES
// =============================================================================

// activityMsg signals that a session applied a delta or changed status. The
// payload is deliberately empty: the update loop re-reads the session's
// snapshot, so stale notifications are harmless.
type activityMsg struct{}

// sessionStartedMsg delivers the session created by a send, retry, or resume.
type sessionStartedMsg struct {
	session *stream.Session
}

// sessionIdleMsg reports that a resume found nothing to re-attach to.
type sessionIdleMsg struct{}

// persistedMsg delivers a freshly loaded persisted snapshot.
type persistedMsg struct {
	messages []*model.Message
}

// cancelledMsg reports that a cancel (with its flush) finished.
type cancelledMsg struct{}

// exportedMsg reports a completed markdown export.
type exportedMsg struct {
	path string
}

// ConfigReloadedMsg delivers a hot-reloaded configuration. The watcher
// goroutine hands it to Program.Send instead of mutating settings directly,
// keeping the event loop the only writer of view state.
type ConfigReloadedMsg struct {
	Config *config.Config
}

// errMsg carries an operation failure into the update loop.
type errMsg struct {
	err error
}

// waitForActivity blocks on the engine's notification channel and converts
// each wakeup into an activityMsg. The update loop re-issues it after every
// delivery, the standard Bubble Tea pattern for external event sources.
func waitForActivity(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-updates
		return activityMsg{}
	}
}
