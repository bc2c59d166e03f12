// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"testing"

	"github.com/jeranaias/chatstream/internal/model"
)

func persistedMessage(id string, role model.Role, content string) *model.Message {
	return &model.Message{ID: id, Role: role, Content: content}
}

// =============================================================================
// RECONCILE TESTS
// =============================================================================

func TestReconcile_NoLiveTurn(t *testing.T) {
	r := New()
	persisted := []*model.Message{
		persistedMessage("msg_1", model.RoleUser, "Hello"),
		persistedMessage("msg_2", model.RoleAssistant, "Hi there"),
	}

	out := r.Reconcile(persisted, nil)

	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].ID != "msg_1" || out[1].ID != "msg_2" {
		t.Error("persisted order must be preserved")
	}
}

func TestReconcile_AppendsSyntheticTrailingEntry(t *testing.T) {
	r := New()
	persisted := []*model.Message{
		persistedMessage("msg_1", model.RoleUser, "Hello"),
	}
	live := &LiveTurn{MessageID: "tmp_abc", Content: "Hi"}

	out := r.Reconcile(persisted, live)

	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	last := out[len(out)-1]
	if last.ID != "tmp_abc" || !last.IsStreaming || last.DisplayContent() != "Hi" {
		t.Errorf("synthetic entry = %+v", last)
	}
}

func TestReconcile_OverlaysLiveBufferOnPersistedRow(t *testing.T) {
	r := New()
	streaming := persistedMessage("msg_2", model.RoleAssistant, "Hi")
	streaming.IsStreaming = true
	persisted := []*model.Message{
		persistedMessage("msg_1", model.RoleUser, "Hello"),
		streaming,
	}
	live := &LiveTurn{MessageID: "msg_2", Content: "Hi there"}

	out := r.Reconcile(persisted, live)

	if len(out) != 2 {
		t.Fatalf("len = %d, want 2 (overlay, not append)", len(out))
	}
	if out[1].DisplayContent() != "Hi there" {
		t.Errorf("overlay content = %q, want live buffer", out[1].DisplayContent())
	}
	// Persisted snapshot is never mutated.
	if streaming.Content != "Hi" {
		t.Error("reconcile must not mutate the persisted message")
	}
}

func TestReconcile_NoDuplicateIDs(t *testing.T) {
	r := New()
	persisted := []*model.Message{
		persistedMessage("msg_1", model.RoleUser, "a"),
		persistedMessage("msg_1", model.RoleUser, "a-dup"),
		persistedMessage("msg_2", model.RoleAssistant, "b"),
	}
	live := &LiveTurn{MessageID: "msg_2", Content: "b-live"}

	out := r.Reconcile(persisted, live)

	seen := make(map[string]bool)
	for _, msg := range out {
		if seen[msg.ID] {
			t.Errorf("duplicate id %q in output", msg.ID)
		}
		seen[msg.ID] = true
	}
	if len(out) != 2 {
		t.Errorf("len = %d, want 2", len(out))
	}
}

func TestReconcile_ProvisionalIDRewrite(t *testing.T) {
	r := New()
	live := &LiveTurn{MessageID: "tmp_x", Content: "partial"}

	// First pass: live turn under its provisional id.
	out := r.Reconcile([]*model.Message{persistedMessage("msg_1", model.RoleUser, "q")}, live)
	if out[len(out)-1].ID != "tmp_x" {
		t.Fatalf("expected provisional id before assignment")
	}

	// Persistence finishes and assigns the permanent id while the local
	// buffer still references the provisional one.
	r.RecordIDAssignment("tmp_x", "msg_2")
	persisted := []*model.Message{
		persistedMessage("msg_1", model.RoleUser, "q"),
		persistedMessage("msg_2", model.RoleAssistant, "partial"),
	}

	out = r.Reconcile(persisted, live)

	var sawProvisional, sawPermanent int
	for _, msg := range out {
		switch msg.ID {
		case "tmp_x":
			sawProvisional++
		case "msg_2":
			sawPermanent++
		}
	}
	if sawProvisional != 0 {
		t.Error("provisional id must not survive the rewrite")
	}
	if sawPermanent != 1 {
		t.Errorf("permanent id count = %d, want exactly 1", sawPermanent)
	}
}

// =============================================================================
// REFERENCE STABILITY TESTS
// =============================================================================

func TestReconcile_ReferenceStable(t *testing.T) {
	r := New()
	persisted := []*model.Message{
		persistedMessage("msg_1", model.RoleUser, "Hello"),
		persistedMessage("msg_2", model.RoleAssistant, "Hi"),
	}

	first := r.Reconcile(persisted, nil)

	// Structurally equal input, different backing slice.
	again := []*model.Message{
		persistedMessage("msg_1", model.RoleUser, "Hello"),
		persistedMessage("msg_2", model.RoleAssistant, "Hi"),
	}
	second := r.Reconcile(again, nil)

	if &first[0] != &second[0] || len(first) != len(second) {
		t.Error("structurally equal inputs must return the same slice")
	}
}

func TestReconcile_NewSliceWhenContentGrows(t *testing.T) {
	r := New()
	persisted := []*model.Message{persistedMessage("msg_1", model.RoleUser, "Hello")}

	first := r.Reconcile(persisted, &LiveTurn{MessageID: "tmp_a", Content: "Hi"})
	second := r.Reconcile(persisted, &LiveTurn{MessageID: "tmp_a", Content: "Hi there"})

	if len(second) != len(first) {
		t.Fatalf("unexpected length change")
	}
	if second[len(second)-1].DisplayContent() != "Hi there" {
		t.Error("grown live buffer must be reflected")
	}
	if &first[0] == &second[0] && first[len(first)-1].DisplayContent() == second[len(second)-1].DisplayContent() {
		t.Error("changed content must produce a new result")
	}
}

func TestReconcile_ToolResultAloneInvalidatesPreviousOutput(t *testing.T) {
	r := New()
	persisted := []*model.Message{persistedMessage("msg_1", model.RoleUser, "Look this up")}

	running := &LiveTurn{
		MessageID: "tmp_a",
		ToolCalls: []model.ToolCall{
			{CallID: "call_1", Name: "search", State: model.ToolCallReady},
		},
	}
	first := r.Reconcile(persisted, running)
	if got := first[len(first)-1].ToolCalls[0].State; got != model.ToolCallReady {
		t.Fatalf("State = %q, want %q", got, model.ToolCallReady)
	}

	// The result lands with no content or reasoning change alongside it.
	finished := &LiveTurn{
		MessageID: "tmp_a",
		ToolCalls: []model.ToolCall{
			{CallID: "call_1", Name: "search", Result: "42", State: model.ToolCallResult},
		},
	}
	second := r.Reconcile(persisted, finished)

	if got := second[len(second)-1].ToolCalls[0].State; got != model.ToolCallResult {
		t.Errorf("State = %q after result delta, want %q", got, model.ToolCallResult)
	}
	if len(first) == len(second) && &first[0] == &second[0] {
		t.Error("a tool state change alone must produce a new result slice")
	}
}

func TestReconcile_HappyPathScenario(t *testing.T) {
	// User sends "Hello"; deltas "Hi", " there" stream in; after the
	// persistence flush the final list is user+assistant, not streaming.
	r := New()
	persisted := []*model.Message{persistedMessage("msg_1", model.RoleUser, "Hello")}

	out := r.Reconcile(persisted, &LiveTurn{MessageID: "tmp_a", Content: "Hi"})
	if out[1].DisplayContent() != "Hi" {
		t.Fatalf("after first delta: %q", out[1].DisplayContent())
	}

	out = r.Reconcile(persisted, &LiveTurn{MessageID: "tmp_a", Content: "Hi there"})
	if out[1].DisplayContent() != "Hi there" {
		t.Fatalf("after second delta: %q", out[1].DisplayContent())
	}

	// Flush: persistence assigns msg_2 and the session goes away.
	r.RecordIDAssignment("tmp_a", "msg_2")
	final := []*model.Message{
		persistedMessage("msg_1", model.RoleUser, "Hello"),
		persistedMessage("msg_2", model.RoleAssistant, "Hi there"),
	}
	out = r.Reconcile(final, nil)

	if len(out) != 2 {
		t.Fatalf("final len = %d, want 2", len(out))
	}
	if out[1].ID != "msg_2" || out[1].IsStreaming {
		t.Errorf("final assistant message = %+v", out[1])
	}
	if out[1].DisplayContent() != "Hi there" {
		t.Errorf("final content = %q", out[1].DisplayContent())
	}
}
