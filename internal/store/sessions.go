// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/orchd/orchd/internal/apperr"
)

// CreateSession inserts a new session row. Fails with
// CodeSessionAlreadyExists if the id is taken.
func (s *Store) CreateSession(sess Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, tool, profile_id, tool_session_id, cwd,
			workspace_key, workspace_root, tree_path, label, pinned_slot,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Tool, sess.ProfileID, nullIfEmpty(sess.ToolSessionID), sess.Cwd,
		nullIfEmpty(sess.WorkspaceKey), nullIfEmpty(sess.WorkspaceRoot), nullIfEmpty(sess.TreePath),
		nullIfEmpty(sess.Label), nullIfZero(sess.PinnedSlot),
		unixMillis(sess.CreatedAt), unixMillis(sess.UpdatedAt))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return apperr.New(apperr.CodeSessionAlreadyExists, sess.ID)
		}
		return fmt.Errorf("store: create session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, tool, profile_id, tool_session_id, cwd, workspace_key,
			workspace_root, tree_path, label, pinned_slot, created_at,
			updated_at, exit_code, exit_signal
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.CodeUnknownSession, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns every session row, most recently created first.
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, tool, profile_id, tool_session_id, cwd, workspace_key,
			workspace_root, tree_path, label, pinned_slot, created_at,
			updated_at, exit_code, exit_signal
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// UpdateSessionMeta updates the mutable identity fields set after
// creation (tool_session_id from the linker, tree_path from worktree
// provisioning, label).
func (s *Store) UpdateSessionMeta(id string, toolSessionID, treePath, label *string, updatedAtMs int64) error {
	if toolSessionID != nil {
		if _, err := s.db.Exec(`UPDATE sessions SET tool_session_id = ?, updated_at = ? WHERE id = ?`, *toolSessionID, updatedAtMs, id); err != nil {
			return fmt.Errorf("store: update tool_session_id for %s: %w", id, err)
		}
	}
	if treePath != nil {
		if _, err := s.db.Exec(`UPDATE sessions SET tree_path = ?, updated_at = ? WHERE id = ?`, *treePath, updatedAtMs, id); err != nil {
			return fmt.Errorf("store: update tree_path for %s: %w", id, err)
		}
	}
	if label != nil {
		if _, err := s.db.Exec(`UPDATE sessions SET label = ?, updated_at = ? WHERE id = ?`, *label, updatedAtMs, id); err != nil {
			return fmt.Errorf("store: update label for %s: %w", id, err)
		}
	}
	return nil
}

// MarkSessionExited records the terminal exit status of a session.
func (s *Store) MarkSessionExited(id string, exitCode *int, exitSignal string, updatedAtMs int64) error {
	_, err := s.db.Exec(`UPDATE sessions SET exit_code = ?, exit_signal = ?, updated_at = ? WHERE id = ?`,
		exitCode, nullIfEmpty(exitSignal), updatedAtMs, id)
	if err != nil {
		return fmt.Errorf("store: mark session %s exited: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session and cascades its events, output,
// and attention items/actions in a single transaction.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin delete session %s: %w", id, err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM attention_actions WHERE attention_id IN (SELECT id FROM attention_items WHERE session_id = ?)`, []any{id}},
		{`DELETE FROM attention_items WHERE session_id = ?`, []any{id}},
		{`DELETE FROM events WHERE session_id = ?`, []any{id}},
		{`DELETE FROM output WHERE session_id = ?`, []any{id}},
		{`DELETE FROM sessions WHERE id = ?`, []any{id}},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.query, st.args...); err != nil {
			return fmt.Errorf("store: delete session %s: %w", id, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var sess Session
	var toolSessionID, workspaceKey, workspaceRoot, treePath, label, exitSignal sql.NullString
	var pinnedSlot sql.NullInt64
	var createdAt, updatedAt int64
	var exitCode sql.NullInt64

	err := r.Scan(&sess.ID, &sess.Tool, &sess.ProfileID, &toolSessionID, &sess.Cwd,
		&workspaceKey, &workspaceRoot, &treePath, &label, &pinnedSlot,
		&createdAt, &updatedAt, &exitCode, &exitSignal)
	if err != nil {
		return nil, err
	}

	sess.ToolSessionID = toolSessionID.String
	sess.WorkspaceKey = workspaceKey.String
	sess.WorkspaceRoot = workspaceRoot.String
	sess.TreePath = treePath.String
	sess.Label = label.String
	if pinnedSlot.Valid {
		sess.PinnedSlot = int(pinnedSlot.Int64)
	}
	sess.CreatedAt = fromMillis(createdAt)
	sess.UpdatedAt = fromMillis(updatedAt)
	sess.ExitSignal = exitSignal.String
	if exitCode.Valid {
		v := int(exitCode.Int64)
		sess.ExitCode = &v
	}
	return &sess, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
