// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"

	"github.com/orchd/orchd/internal/apperr"
)

// CreateOrchestration inserts a new orchestration row.
func (s *Store) CreateOrchestration(o OrchestrationRow) error {
	_, err := s.db.Exec(`
		INSERT INTO orchestrations (id, name, project_path, status, dispatch_mode,
			orchestrator_session_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.ProjectPath, o.Status, o.DispatchMode,
		nullIfEmpty(o.OrchestratorSessionID), o.State, unixMillis(o.CreatedAt), unixMillis(o.UpdatedAt))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return apperr.New(apperr.CodeDuplicate, o.ID)
		}
		return fmt.Errorf("store: create orchestration %s: %w", o.ID, err)
	}
	return nil
}

// GetOrchestration fetches an orchestration by id.
func (s *Store) GetOrchestration(id string) (*OrchestrationRow, error) {
	row := s.db.QueryRow(`
		SELECT id, name, project_path, status, dispatch_mode, orchestrator_session_id,
			state, created_at, updated_at
		FROM orchestrations WHERE id = ?`, id)
	o, err := scanOrchestration(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.CodeUnknownSession, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get orchestration %s: %w", id, err)
	}
	return o, nil
}

// ListOrchestrations returns every orchestration, most recently created first.
func (s *Store) ListOrchestrations() ([]OrchestrationRow, error) {
	rows, err := s.db.Query(`
		SELECT id, name, project_path, status, dispatch_mode, orchestrator_session_id,
			state, created_at, updated_at
		FROM orchestrations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list orchestrations: %w", err)
	}
	defer rows.Close()

	var out []OrchestrationRow
	for rows.Next() {
		o, err := scanOrchestration(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan orchestration: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateOrchestrationState persists the status and the mutable in-memory
// state blob together with a fresh updated_at.
func (s *Store) UpdateOrchestrationState(id, status, state string, updatedAtMs int64) error {
	_, err := s.db.Exec(`UPDATE orchestrations SET status = ?, state = ?, updated_at = ? WHERE id = ?`,
		status, state, updatedAtMs, id)
	if err != nil {
		return fmt.Errorf("store: update orchestration state %s: %w", id, err)
	}
	return nil
}

// SetOrchestratorSession records which session is acting as the
// orchestrator once it is dispatched.
func (s *Store) SetOrchestratorSession(id, sessionID string, updatedAtMs int64) error {
	_, err := s.db.Exec(`UPDATE orchestrations SET orchestrator_session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID, updatedAtMs, id)
	if err != nil {
		return fmt.Errorf("store: set orchestrator session for %s: %w", id, err)
	}
	return nil
}

// DeleteOrchestration removes an orchestration row. Member sessions and
// their worktrees are torn down by the orchestration manager beforehand;
// this only drops the bookkeeping row.
func (s *Store) DeleteOrchestration(id string) error {
	_, err := s.db.Exec(`DELETE FROM orchestrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete orchestration %s: %w", id, err)
	}
	return nil
}

func scanOrchestration(r rowScanner) (*OrchestrationRow, error) {
	var o OrchestrationRow
	var orchestratorSessionID sql.NullString
	var createdAt, updatedAt int64
	if err := r.Scan(&o.ID, &o.Name, &o.ProjectPath, &o.Status, &o.DispatchMode,
		&orchestratorSessionID, &o.State, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.OrchestratorSessionID = orchestratorSessionID.String
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)
	return &o, nil
}
