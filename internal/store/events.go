// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AppendEvent inserts an append-only event row and returns its
// monotonic id.
func (s *Store) AppendEvent(sessionID, kind, data string, ts time.Time) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO events (session_id, ts, kind, data) VALUES (?, ?, ?, ?)`,
		sessionID, unixMillis(ts), kind, data)
	if err != nil {
		return 0, fmt.Errorf("store: append event for %s: %w", sessionID, err)
	}
	return res.LastInsertId()
}

// SessionEvents returns events for sessionID with id > afterID
// (afterID=0 returns the full history), oldest first.
func (s *Store) SessionEvents(sessionID string, afterID int64, limit int) ([]Event, error) {
	query := `SELECT id, session_id, ts, kind, data FROM events WHERE session_id = ? AND id > ? ORDER BY id ASC`
	args := []any{sessionID, afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &e.SessionID, &ts, &e.Kind, &e.Data); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastEventMatching returns the newest event for sessionID whose kind
// is in exact or starts with one of prefixes, or nil if none exists.
// Used by digest snapshots, which must ignore generic runtime events.
func (s *Store) LastEventMatching(sessionID string, exact []string, prefixes []string) (*Event, error) {
	query := `SELECT id, session_id, ts, kind, data FROM events WHERE session_id = ? AND (`
	args := []any{sessionID}

	var clauses []string
	if len(exact) > 0 {
		c := `kind IN (?` + strings.Repeat(", ?", len(exact)-1) + `)`
		clauses = append(clauses, c)
		for _, k := range exact {
			args = append(args, k)
		}
	}
	for _, p := range prefixes {
		clauses = append(clauses, `kind LIKE ?`)
		args = append(args, p+"%")
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	query += strings.Join(clauses, " OR ") + `) ORDER BY id DESC LIMIT 1`

	var e Event
	var ts int64
	err := s.db.QueryRow(query, args...).Scan(&e.ID, &e.SessionID, &ts, &e.Kind, &e.Data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last event for %s: %w", sessionID, err)
	}
	e.Timestamp = fromMillis(ts)
	return &e, nil
}

// AppendOutput stores a chunk of raw session output.
func (s *Store) AppendOutput(sessionID string, data []byte, ts time.Time) error {
	_, err := s.db.Exec(`INSERT INTO output (session_id, ts, data) VALUES (?, ?, ?)`,
		sessionID, unixMillis(ts), data)
	if err != nil {
		return fmt.Errorf("store: append output for %s: %w", sessionID, err)
	}
	return nil
}

// SessionOutput returns the raw output chunks for sessionID in order.
func (s *Store) SessionOutput(sessionID string, afterID int64) ([]OutputChunk, error) {
	rows, err := s.db.Query(`SELECT id, session_id, ts, data FROM output WHERE session_id = ? AND id > ? ORDER BY id ASC`,
		sessionID, afterID)
	if err != nil {
		return nil, fmt.Errorf("store: query output for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []OutputChunk
	for rows.Next() {
		var c OutputChunk
		var ts int64
		if err := rows.Scan(&c.ID, &c.SessionID, &ts, &c.Data); err != nil {
			return nil, fmt.Errorf("store: scan output chunk: %w", err)
		}
		c.Timestamp = fromMillis(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastOutputTail returns up to maxBytes of the most recent output for
// sessionID, plus the timestamp of its newest chunk.
func (s *Store) LastOutputTail(sessionID string, maxBytes int) ([]byte, time.Time, error) {
	rows, err := s.db.Query(`SELECT ts, data FROM output WHERE session_id = ? ORDER BY id DESC LIMIT 8`, sessionID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("store: output tail for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var chunks [][]byte
	var newest time.Time
	for rows.Next() {
		var ts int64
		var data []byte
		if err := rows.Scan(&ts, &data); err != nil {
			return nil, time.Time{}, fmt.Errorf("store: scan output tail: %w", err)
		}
		if newest.IsZero() {
			newest = fromMillis(ts)
		}
		chunks = append(chunks, data)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	var tail []byte
	for i := len(chunks) - 1; i >= 0; i-- {
		tail = append(tail, chunks[i]...)
	}
	if maxBytes > 0 && len(tail) > maxBytes {
		tail = tail[len(tail)-maxBytes:]
	}
	return tail, newest, nil
}
