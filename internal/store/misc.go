// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertWorkspacePreset records the last-used profile/overrides for a
// (path, tool) pair.
func (s *Store) UpsertWorkspacePreset(p WorkspacePreset) error {
	_, err := s.db.Exec(`
		INSERT INTO workspace_presets (path, tool, profile_id, overrides, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path, tool) DO UPDATE SET
			profile_id = excluded.profile_id,
			overrides = excluded.overrides,
			updated_at = excluded.updated_at`,
		p.Path, p.Tool, p.ProfileID, p.Overrides, unixMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert workspace preset %s/%s: %w", p.Path, p.Tool, err)
	}
	return nil
}

// GetWorkspacePreset returns the preset for (path, tool), if any.
func (s *Store) GetWorkspacePreset(path, tool string) (*WorkspacePreset, error) {
	var p WorkspacePreset
	var updatedAt int64
	err := s.db.QueryRow(`SELECT path, tool, profile_id, overrides, updated_at FROM workspace_presets WHERE path = ? AND tool = ?`,
		path, tool).Scan(&p.Path, &p.Tool, &p.ProfileID, &p.Overrides, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get workspace preset %s/%s: %w", path, tool, err)
	}
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// GetIdempotencyResult returns a previously stored result for key, if present.
func (s *Store) GetIdempotencyResult(key string) (string, bool, error) {
	var result string
	err := s.db.QueryRow(`SELECT result FROM idempotency WHERE key = ?`, key).Scan(&result)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get idempotency result %s: %w", key, err)
	}
	return result, true, nil
}

// PutIdempotencyResult records the result of a command for key,
// idempotently (a second write with the same key is a no-op).
func (s *Store) PutIdempotencyResult(key, result string, ts time.Time) error {
	_, err := s.db.Exec(`INSERT INTO idempotency (key, result, created_at) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		key, result, unixMillis(ts))
	if err != nil {
		return fmt.Errorf("store: put idempotency result %s: %w", key, err)
	}
	return nil
}

// UpsertCommandPreset saves or updates a named command-gate payload.
func (s *Store) UpsertCommandPreset(p CommandPreset) error {
	_, err := s.db.Exec(`
		INSERT INTO command_presets (name, command_id, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET command_id = excluded.command_id, payload = excluded.payload`,
		p.Name, p.CommandID, p.Payload, unixMillis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert command preset %s: %w", p.Name, err)
	}
	return nil
}

// GetCommandPreset fetches a saved command preset by name.
func (s *Store) GetCommandPreset(name string) (*CommandPreset, error) {
	var p CommandPreset
	var createdAt int64
	err := s.db.QueryRow(`SELECT name, command_id, payload, created_at FROM command_presets WHERE name = ?`, name).
		Scan(&p.Name, &p.CommandID, &p.Payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get command preset %s: %w", name, err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}
