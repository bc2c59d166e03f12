// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile merges a live, in-memory generation with the durable
// message log into one stable, duplicate-free display sequence.
//
// The persisted snapshot is the base order. An active stream contributes at
// most one entry: either an overlay onto the persisted message that is
// currently streaming, or a single synthetic trailing message when no
// persisted message represents the in-flight turn yet.
//
// Reconcile is reference-stable: structurally equal inputs return the
// previous output slice unchanged, so downstream consumers can use slice
// identity to skip recomputation.
package reconcile

import (
	"strconv"
	"strings"

	"github.com/jeranaias/chatstream/internal/model"
)

// =============================================================================
// LIVE TURN
// =============================================================================

// LiveTurn is the stream session's locally-accumulating view of the
// in-flight assistant message.
type LiveTurn struct {
	// MessageID is the id the session is writing under. It may be
	// provisional (locally generated) until persistence assigns one.
	MessageID string

	Content   string
	Reasoning string
	ToolCalls []model.ToolCall
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler produces the ordered display list for one thread. It is not
// safe for concurrent use; the event loop owns it.
type Reconciler struct {
	// Rewrites of provisional to permanent ids, applied exactly once each.
	rewrites map[string]string

	prevOut  []*model.Message
	prevKeys []entryKey
}

// New creates a reconciler.
func New() *Reconciler {
	return &Reconciler{
		rewrites: make(map[string]string),
	}
}

// entryKey captures the structural identity of one output entry, used to
// decide whether the previous output can be returned as-is.
type entryKey struct {
	id        string
	role      model.Role
	content   string
	reasoning string
	streaming bool
	toolCalls string
}

// RecordIDAssignment registers that persistence assigned permanentID to the
// message the session knew as provisionalID. The next Reconcile rewrites the
// reference once; both ids never coexist in the output.
func (r *Reconciler) RecordIDAssignment(provisionalID, permanentID string) {
	if provisionalID == "" || permanentID == "" || provisionalID == permanentID {
		return
	}
	r.rewrites[provisionalID] = permanentID
}

// Reconcile merges the persisted snapshot with the live turn, if any.
//
// Guarantees:
//   - output order is the persisted order, plus at most one trailing
//     synthetic entry for the live turn;
//   - each message id appears at most once;
//   - structurally equal inputs return the previous output slice.
func (r *Reconciler) Reconcile(persisted []*model.Message, live *LiveTurn) []*model.Message {
	liveID := ""
	if live != nil {
		liveID = r.resolveID(live.MessageID)
	}

	out := make([]*model.Message, 0, len(persisted)+1)
	seen := make(map[string]int, len(persisted)+1)
	overlaid := false

	for _, msg := range persisted {
		id := r.resolveID(msg.ID)

		// Duplicate ids never survive reconciliation: the first occurrence
		// wins, later ones are dropped.
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = len(out)

		// Overlay the live buffer onto the persisted message that carries
		// the in-flight turn. This covers both the message marked streaming
		// and a placeholder row persistence wrote at generation start.
		if live != nil && id == liveID {
			out = append(out, r.overlay(msg, id, live))
			overlaid = true
			continue
		}

		if id == msg.ID {
			out = append(out, msg)
		} else {
			renamed := msg.Clone()
			renamed.ID = id
			out = append(out, renamed)
		}
	}

	// No persisted message represents the turn: append one synthetic
	// trailing entry carrying the live buffer.
	if live != nil && !overlaid {
		synthetic := &model.Message{
			ID:          liveID,
			Role:        model.RoleAssistant,
			Content:     live.Content,
			Reasoning:   live.Reasoning,
			IsStreaming: true,
		}
		if len(live.ToolCalls) > 0 {
			synthetic.ToolCalls = append([]model.ToolCall(nil), live.ToolCalls...)
		}
		if _, dup := seen[liveID]; !dup {
			out = append(out, synthetic)
		}
	}

	// Reference stability: hand back the previous slice when nothing
	// structurally changed.
	keys := makeKeys(out)
	if keysEqual(keys, r.prevKeys) {
		return r.prevOut
	}
	r.prevOut = out
	r.prevKeys = keys
	return out
}

// resolveID applies a recorded provisional-to-permanent rewrite, if any.
func (r *Reconciler) resolveID(id string) string {
	if mapped, ok := r.rewrites[id]; ok {
		return mapped
	}
	return id
}

// overlay merges the live buffer onto a persisted message. The persisted
// copy is never mutated; display state lives in the returned clone.
func (r *Reconciler) overlay(msg *model.Message, id string, live *LiveTurn) *model.Message {
	merged := msg.Clone()
	merged.ID = id
	merged.IsStreaming = true

	// The live buffer is monotonically ahead of (or equal to) the persisted
	// snapshot; prefer it when longer.
	if len(live.Content) >= len(merged.Content) {
		merged.Content = live.Content
	}
	if len(live.Reasoning) >= len(merged.Reasoning) {
		merged.Reasoning = live.Reasoning
	}
	if len(live.ToolCalls) > 0 {
		merged.ToolCalls = append([]model.ToolCall(nil), live.ToolCalls...)
	}
	return merged
}

// =============================================================================
// STRUCTURAL EQUALITY
// =============================================================================

func makeKeys(msgs []*model.Message) []entryKey {
	keys := make([]entryKey, len(msgs))
	for i, m := range msgs {
		keys[i] = entryKey{
			id:        m.ID,
			role:      m.Role,
			content:   m.DisplayContent(),
			reasoning: m.DisplayReasoning(),
			streaming: m.IsStreaming,
			toolCalls: toolCallsKey(m.ToolCalls),
		}
	}
	return keys
}

// toolCallsKey folds each call's identity and progress into the structural
// key. A state move or an arriving result alone must invalidate the previous
// output, even when no text delta accompanies it.
func toolCallsKey(calls []model.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tc := range calls {
		b.WriteString(tc.CallID)
		b.WriteByte(':')
		b.WriteString(string(tc.State))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(tc.Arguments)))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(tc.Result)))
		b.WriteByte(';')
	}
	return b.String()
}

func keysEqual(a, b []entryKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
