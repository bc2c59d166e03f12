// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a thread transcript to a Markdown file.
package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// MARKDOWN EXPORT
// =============================================================================

// Markdown renders a thread and its messages as a Markdown document with
// metadata, role labels, and generation statistics for assistant turns.
func Markdown(thread *model.Thread, messages []*model.Message) string {
	var sb strings.Builder

	sb.WriteString("# " + thread.GetTitle() + "\n\n")
	sb.WriteString("Model: " + thread.Model + "\n")
	sb.WriteString("Created: " + thread.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "**")
		if !msg.Timestamp.IsZero() {
			sb.WriteString(" (" + msg.Timestamp.Format("15:04") + ")")
		}
		sb.WriteString(":\n\n")

		if reasoning := msg.DisplayReasoning(); reasoning != "" {
			sb.WriteString("> ")
			sb.WriteString(strings.ReplaceAll(reasoning, "\n", "\n> "))
			sb.WriteString("\n\n")
		}
		sb.WriteString(msg.DisplayContent())
		sb.WriteString("\n")

		for _, tc := range msg.ToolCalls {
			sb.WriteString("\n*" + tc.Name + "*")
			if tc.Result != "" {
				sb.WriteString(": " + tc.Result)
			}
			sb.WriteString("\n")
		}

		if msg.Role == model.RoleAssistant && msg.TokenCount > 0 {
			sb.WriteString(fmt.Sprintf("\n_%d tokens, %.1f tok/s_\n", msg.TokenCount, msg.TokensPerSec))
		}
		sb.WriteString("\n---\n\n")
	}

	return sb.String()
}

// WriteMarkdown exports the thread to a file in dir, named from the thread
// title. Returns the written path.
func WriteMarkdown(thread *model.Thread, messages []*model.Message, dir string) (string, error) {
	name := sanitizeFilename(thread.GetTitle()) + ".md"
	path := filepath.Join(dir, name)

	if err := util.AtomicWriteFile(path, []byte(Markdown(thread, messages)), 0o644); err != nil {
		return "", fmt.Errorf("export thread: %w", err)
	}
	return path, nil
}

// sanitizeFilename replaces characters that are invalid in filenames on
// either Windows or Unix.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, 50)

	var result []rune
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}
	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}
