// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chatstream/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	model        TEXT NOT NULL DEFAULT '',
	visibility   TEXT NOT NULL DEFAULT 'private',
	owner_kind   TEXT NOT NULL,
	owner_key    TEXT NOT NULL,
	resume_token TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	reasoning  TEXT NOT NULL DEFAULT '',
	tool_calls TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(thread_id, seq)
);

CREATE TABLE IF NOT EXISTS quota_usage (
	identity     TEXT PRIMARY KEY,
	used         INTEGER NOT NULL DEFAULT 0,
	window_start INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner_kind, owner_key, updated_at);
`

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed persistence bridge.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	// retryBackoff is the pause before the single write retry.
	retryBackoff time.Duration
}

// Open opens (creating if needed) the database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:           db,
		log:          log,
		retryBackoff: 250 * time.Millisecond,
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// THREAD OPERATIONS
// =============================================================================

// CreateThread persists a new thread row.
func (s *Store) CreateThread(ctx context.Context, thread *model.Thread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, title, model, visibility, owner_kind, owner_key, resume_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		thread.ID, thread.Title, thread.Model, string(thread.Visibility),
		string(thread.Owner.Kind), thread.Owner.Key, thread.ResumeToken,
		thread.CreatedAt.UnixMilli(), thread.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// GetThread loads a thread's metadata, without messages.
func (s *Store) GetThread(ctx context.Context, threadID string, identity model.Identity) (*model.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, visibility, owner_kind, owner_key, resume_token, created_at, updated_at
		 FROM threads WHERE id = ?`, threadID)

	var t model.Thread
	var ownerKind, visibility string
	var createdAt, updatedAt int64
	err := row.Scan(&t.ID, &t.Title, &t.Model, &visibility, &ownerKind, &t.Owner.Key, &t.ResumeToken, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	t.Owner.Kind = model.IdentityKind(ownerKind)
	t.Visibility = model.Visibility(visibility)
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)

	if err := checkOwner(&t, identity); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateThreadTitle sets the title, identity-scoped.
func (s *Store) UpdateThreadTitle(ctx context.Context, threadID string, identity model.Identity, title string) error {
	if _, err := s.GetThread(ctx, threadID, identity); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UnixMilli(), threadID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return nil
}

// ListThreads returns the identity's threads, most recently updated first.
func (s *Store) ListThreads(ctx context.Context, identity model.Identity) ([]*model.Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, visibility, owner_kind, owner_key, resume_token, created_at, updated_at
		 FROM threads WHERE owner_kind = ? AND owner_key = ?
		 ORDER BY updated_at DESC`,
		string(identity.Kind), identity.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []*model.Thread
	for rows.Next() {
		var t model.Thread
		var ownerKind, visibility string
		var createdAt, updatedAt int64
		if err := rows.Scan(&t.ID, &t.Title, &t.Model, &visibility, &ownerKind, &t.Owner.Key, &t.ResumeToken, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.Owner.Kind = model.IdentityKind(ownerKind)
		t.Visibility = model.Visibility(visibility)
		t.CreatedAt = time.UnixMilli(createdAt)
		t.UpdatedAt = time.UnixMilli(updatedAt)
		threads = append(threads, &t)
	}
	return threads, rows.Err()
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// AppendMessage durably appends a message to a thread and returns the
// persisted (permanent) message ID. Provisional IDs are replaced.
//
// RELIABILITY: a failed write is retried once after a short backoff before
// surfacing ErrWriteFailed (the caller then keeps the content in memory).
func (s *Store) AppendMessage(ctx context.Context, threadID string, identity model.Identity, msg *model.Message) (string, error) {
	if _, err := s.GetThread(ctx, threadID, identity); err != nil {
		return "", err
	}

	id := msg.ID
	if id == "" || model.IsProvisionalID(id) {
		id = model.GenerateMessageID()
	}

	err := s.insertMessage(ctx, threadID, id, msg)
	if err != nil {
		s.log.Warn().Err(err).Str("thread", threadID).Msg("message write failed, retrying once")
		select {
		case <-time.After(s.retryBackoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if err = s.insertMessage(ctx, threadID, id, msg); err != nil {
			s.log.Error().Err(err).Str("thread", threadID).Msg("message write failed after retry")
			return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), threadID); err != nil {
		s.log.Warn().Err(err).Str("thread", threadID).Msg("failed to bump thread timestamp")
	}

	return id, nil
}

// insertMessage writes one message row at the next sequence position.
func (s *Store) insertMessage(ctx context.Context, threadID, id string, msg *model.Message) error {
	toolCalls := ""
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to encode tool calls: %w", err)
		}
		toolCalls = string(data)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, seq, role, content, reasoning, tool_calls, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?), ?, ?, ?, ?, ?)`,
		id, threadID, threadID, string(msg.Role), msg.DisplayContent(), msg.DisplayReasoning(), toolCalls, ts.UnixMilli())
	return err
}

// GetThreadMessages returns a thread's messages in persisted order.
func (s *Store) GetThreadMessages(ctx context.Context, threadID string, identity model.Identity) ([]*model.Message, error) {
	if _, err := s.GetThread(ctx, threadID, identity); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, reasoning, tool_calls, created_at
		 FROM messages WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		var m model.Message
		var role, toolCalls string
		var createdAt int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Reasoning, &toolCalls, &createdAt); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.Timestamp = time.UnixMilli(createdAt)
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				s.log.Warn().Err(err).Str("message", m.ID).Msg("skipping corrupt tool call record")
			}
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// DeleteLastAssistantMessage removes the most recent assistant message of a
// thread. Returns ErrMessageNotFound when the thread has none; retry treats
// that as non-fatal.
func (s *Store) DeleteLastAssistantMessage(ctx context.Context, threadID string, identity model.Identity) error {
	if _, err := s.GetThread(ctx, threadID, identity); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = (
			SELECT id FROM messages
			WHERE thread_id = ? AND role = ?
			ORDER BY seq DESC LIMIT 1
		 )`, threadID, string(model.RoleAssistant))
	if err != nil {
		return fmt.Errorf("failed to delete assistant message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// =============================================================================
// RESUME TOKEN CHANNEL
// =============================================================================

// SetResumeToken stores the durable pointer to an in-progress generation.
func (s *Store) SetResumeToken(ctx context.Context, threadID string, identity model.Identity, token string) error {
	if _, err := s.GetThread(ctx, threadID, identity); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET resume_token = ?, updated_at = ? WHERE id = ?`,
		token, time.Now().UnixMilli(), threadID)
	if err != nil {
		return fmt.Errorf("failed to set resume token: %w", err)
	}
	return nil
}

// TakeResumeToken reads and clears the resume token in one step, so two
// concurrent resume attempts cannot both re-attach.
func (s *Store) TakeResumeToken(ctx context.Context, threadID string, identity model.Identity) (string, error) {
	thread, err := s.GetThread(ctx, threadID, identity)
	if err != nil {
		return "", err
	}
	if thread.ResumeToken == "" {
		return "", nil
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE threads SET resume_token = '' WHERE id = ? AND resume_token = ?`,
		threadID, thread.ResumeToken)
	if err != nil {
		return "", fmt.Errorf("failed to clear resume token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		// Someone else took it first.
		return "", nil
	}
	return thread.ResumeToken, nil
}

// =============================================================================
// QUOTA USAGE
// =============================================================================

// GetUsage returns the identity's persisted window counter. An identity with
// no row yet reports zero usage and a zero window start.
func (s *Store) GetUsage(identityKey string) (int, time.Time, error) {
	row := s.db.QueryRow(
		`SELECT used, window_start FROM quota_usage WHERE identity = ?`, identityKey)

	var used int
	var start int64
	err := row.Scan(&used, &start)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to load quota usage: %w", err)
	}
	return used, time.UnixMilli(start), nil
}

// ConsumeOne records one consumed quota unit. A window start different from
// the stored one means the window rolled over, so the counter restarts at 1.
func (s *Store) ConsumeOne(identityKey string, windowStart time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO quota_usage (identity, used, window_start) VALUES (?, 1, ?)
		 ON CONFLICT(identity) DO UPDATE SET
			used = CASE WHEN window_start = excluded.window_start THEN used + 1 ELSE 1 END,
			window_start = excluded.window_start`,
		identityKey, windowStart.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record quota usage: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkOwner enforces identity scoping on thread access.
func checkOwner(t *model.Thread, identity model.Identity) error {
	if t.Owner.Kind != identity.Kind || t.Owner.Key != identity.Key {
		return ErrAccessDenied
	}
	return nil
}
