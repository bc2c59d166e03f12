// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))

	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	systemLabelStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("241"))

	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	vp.MouseWheelEnabled = true
	return vp
}

// =============================================================================
// MAIN RENDER
// =============================================================================

// View renders the complete chat view.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		inputStyle.Width(m.width-2).Render(m.input.View()),
		m.renderStatusBar(),
	)
}

// renderHeader shows the thread title and model.
func (m Model) renderHeader() string {
	title := util.TruncateWidth(m.thread.GetTitle(), m.width-len(m.thread.Model)-4)
	right := statusStyle.Render(m.thread.Model)
	gap := m.width - util.StringWidth(title) - util.StringWidth(m.thread.Model)
	if gap < 1 {
		gap = 1
	}
	return headerStyle.Render(title) + strings.Repeat(" ", gap) + right
}

// renderStatusBar shows the phase while generating, notices and errors
// otherwise.
func (m Model) renderStatusBar() string {
	switch {
	case m.streaming():
		p := m.session.Phase()
		return m.spin.View() + " " + statusStyle.Render(p.StatusText())
	case m.err != nil:
		return errorStyle.Render(util.TruncateWidth("error: "+m.err.Error(), m.width))
	case m.notice != "":
		return noticeStyle.Render(util.TruncateWidth(m.notice, m.width))
	default:
		return statusStyle.Render("Enter to send - Esc to stop - C-r to retry - C-e to export")
	}
}

// renderTranscript rebuilds the viewport content from the display list and
// follows the tail while streaming.
func (m *Model) renderTranscript() {
	if !m.ready {
		return
	}

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcriptView())
	if m.streaming() || atBottom {
		m.viewport.GotoBottom()
	}
}

// transcriptView renders every display message.
func (m Model) transcriptView() string {
	if len(m.display) == 0 {
		return statusStyle.Render("No messages yet. Say something.")
	}

	var sb strings.Builder
	for i, msg := range m.display {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(msg))
	}
	return sb.String()
}

// renderMessage renders one message with its role label, reasoning panel,
// tool activity, and content.
func (m Model) renderMessage(msg *model.Message) string {
	var sb strings.Builder
	sb.WriteString(roleLabel(msg.Role))
	sb.WriteString("\n")

	if reasoning := msg.DisplayReasoning(); reasoning != "" && m.cfg.UI.ShowReasoning {
		sb.WriteString(reasoningStyle.Render(reasoning))
		sb.WriteString("\n")
	}

	for _, tc := range msg.ToolCalls {
		sb.WriteString(toolStyle.Render(toolLine(tc)))
		sb.WriteString("\n")
	}

	content := msg.DisplayContent()
	if content != "" {
		// Finished assistant turns render as markdown; streaming text stays
		// plain so partial markup never flickers.
		if m.cfg.UI.Markdown && m.markdown != nil && msg.Role == model.RoleAssistant && !msg.IsStreaming {
			if rendered, err := m.markdown.Render(content); err == nil {
				content = strings.TrimRight(rendered, "\n")
			}
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// roleLabel returns the styled label for a message role.
func roleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return userLabelStyle.Render("You")
	case model.RoleAssistant:
		return assistantLabelStyle.Render("Assistant")
	default:
		return systemLabelStyle.Render(role.DisplayName())
	}
}

// toolLine formats one tool call's progress.
func toolLine(tc model.ToolCall) string {
	switch tc.State {
	case model.ToolCallResult:
		return fmt.Sprintf("[%s] %s", tc.Name, util.TruncateRunes(tc.Result, 120))
	default:
		return fmt.Sprintf("[%s] running...", tc.Name)
	}
}

// formatStats renders the post-completion statistics line.
func formatStats(stats *model.Statistics) string {
	if stats.TTFT > 0 {
		return fmt.Sprintf("%d tokens - %.1f tok/s - first token %dms",
			stats.CompletionTokens, stats.TokensPerSecond, stats.TTFT.Milliseconds())
	}
	return fmt.Sprintf("%d tokens - %.1f tok/s", stats.CompletionTokens, stats.TokensPerSecond)
}
