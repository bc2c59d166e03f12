// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"os"
	"strings"
	"testing"

	"github.com/jeranaias/chatstream/internal/model"
)

func testThread(t *testing.T) (*model.Thread, []*model.Message) {
	t.Helper()
	thread := model.NewThread(model.AnonymousIdentity("device-1"), "nimbus-1")
	thread.SetTitle("Go questions")

	assistant := model.NewMessage(model.RoleAssistant, "Go is a programming language.")
	assistant.TokenCount = 6
	assistant.TokensPerSec = 42.5

	return thread, []*model.Message{
		model.NewUserMessage("What is Go?"),
		assistant,
	}
}

func TestMarkdown(t *testing.T) {
	thread, messages := testThread(t)

	md := Markdown(thread, messages)

	for _, want := range []string{
		"# Go questions",
		"Model: nimbus-1",
		"**User**",
		"What is Go?",
		"**Assistant**",
		"Go is a programming language.",
		"6 tokens",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown output missing %q", want)
		}
	}
}

func TestMarkdownIncludesReasoning(t *testing.T) {
	thread, _ := testThread(t)
	msg := model.NewMessage(model.RoleAssistant, "answer")
	msg.Reasoning = "step one\nstep two"

	md := Markdown(thread, []*model.Message{msg})
	if !strings.Contains(md, "> step one\n> step two") {
		t.Errorf("reasoning not blockquoted:\n%s", md)
	}
}

func TestWriteMarkdown(t *testing.T) {
	thread, messages := testThread(t)
	dir := t.TempDir()

	path, err := WriteMarkdown(thread, messages, dir)
	if err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "What is Go?") {
		t.Error("exported file missing transcript content")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", "simple"},
		{"a/b\\c:d", "a-b-c-d"},
		{"two words", "two_words"},
		{"", "conversation"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
