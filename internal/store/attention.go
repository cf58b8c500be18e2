// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/orchd/orchd/internal/apperr"
)

const (
	AttentionStatusOpen      = "open"
	AttentionStatusSent      = "sent"
	AttentionStatusResolved  = "resolved"
	AttentionStatusDismissed = "dismissed"
)

const attentionColumns = `id, session_id, kind, severity, status, title, body, signature, options, created_at, updated_at`

// FindOpenBySignature looks up an existing open (or sent — still
// awaiting a response) attention item with the given signature, for
// coalescing duplicate questions.
func (s *Store) FindOpenBySignature(signature string) (*AttentionItem, error) {
	row := s.db.QueryRow(`
		SELECT `+attentionColumns+`
		FROM attention_items
		WHERE signature = ? AND status IN (?, ?)
		ORDER BY id DESC LIMIT 1`,
		signature, AttentionStatusOpen, AttentionStatusSent)
	item, err := scanAttentionItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find attention by signature: %w", err)
	}
	return item, nil
}

// CreateAttentionItem inserts a new attention item and returns its id.
func (s *Store) CreateAttentionItem(item AttentionItem) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO attention_items (session_id, kind, severity, status, title,
			body, signature, options, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SessionID, item.Kind, item.Severity, item.Status, item.Title,
		item.Body, item.Signature, item.Options,
		unixMillis(item.CreatedAt), unixMillis(item.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: create attention item: %w", err)
	}
	return res.LastInsertId()
}

// TouchAttentionItem refreshes a coalesced duplicate: title/body/options
// and updatedAt are replaced and the status is forced back to open.
func (s *Store) TouchAttentionItem(id int64, title, body, options string, ts time.Time) error {
	_, err := s.db.Exec(`
		UPDATE attention_items
		SET title = ?, body = ?, options = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		title, body, options, AttentionStatusOpen, unixMillis(ts), id)
	if err != nil {
		return fmt.Errorf("store: touch attention item %d: %w", id, err)
	}
	return nil
}

// GetAttentionItem fetches one attention item by id.
func (s *Store) GetAttentionItem(id int64) (*AttentionItem, error) {
	row := s.db.QueryRow(`SELECT `+attentionColumns+` FROM attention_items WHERE id = ?`, id)
	item, err := scanAttentionItem(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.CodeUnknownAttentionItem, strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get attention item %d: %w", id, err)
	}
	return item, nil
}

// AttentionFilter narrows a ListAttentionItems query. Zero values mean
// no constraint; SessionIDs non-nil but empty matches nothing.
type AttentionFilter struct {
	SessionID  string
	SessionIDs []string
	Status     string
	Limit      int
}

// ListAttentionItems returns attention items matching filter, newest
// updatedAt first.
func (s *Store) ListAttentionItems(filter AttentionFilter) ([]AttentionItem, error) {
	query := `SELECT ` + attentionColumns + ` FROM attention_items WHERE 1=1`
	var args []any
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.SessionIDs != nil {
		if len(filter.SessionIDs) == 0 {
			return nil, nil
		}
		query += ` AND session_id IN (?` + repeatPlaceholder(len(filter.SessionIDs)-1) + `)`
		for _, sid := range filter.SessionIDs {
			args = append(args, sid)
		}
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list attention items: %w", err)
	}
	defer rows.Close()

	var out []AttentionItem
	for rows.Next() {
		item, err := scanAttentionItem(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan attention item: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// OpenAttentionCounts returns the number of open/sent items per
// session, for badge rendering.
func (s *Store) OpenAttentionCounts() (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*) FROM attention_items
		WHERE status IN (?, ?) GROUP BY session_id`,
		AttentionStatusOpen, AttentionStatusSent)
	if err != nil {
		return nil, fmt.Errorf("store: count attention items: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var sid string
		var n int
		if err := rows.Scan(&sid, &n); err != nil {
			return nil, fmt.Errorf("store: scan attention count: %w", err)
		}
		out[sid] = n
	}
	return out, rows.Err()
}

// UpdateAttentionStatus transitions an item's status and records the
// action in the audit log, in one transaction.
func (s *Store) UpdateAttentionStatus(id int64, status, action, optionID, actor string, ts time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin update attention %d: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE attention_items SET status = ?, updated_at = ? WHERE id = ?`,
		status, unixMillis(ts), id); err != nil {
		return fmt.Errorf("store: update attention status %d: %w", id, err)
	}
	if _, err := tx.Exec(`INSERT INTO attention_actions (attention_id, action, option_id, actor, ts) VALUES (?, ?, ?, ?, ?)`,
		id, action, nullIfEmpty(optionID), nullIfEmpty(actor), unixMillis(ts)); err != nil {
		return fmt.Errorf("store: record attention action %d: %w", id, err)
	}
	return tx.Commit()
}

// AttentionActions returns the audit log for one item, oldest first.
func (s *Store) AttentionActions(attentionID int64) ([]AttentionAction, error) {
	rows, err := s.db.Query(`
		SELECT id, attention_id, action, option_id, actor, ts
		FROM attention_actions WHERE attention_id = ? ORDER BY id ASC`, attentionID)
	if err != nil {
		return nil, fmt.Errorf("store: list attention actions %d: %w", attentionID, err)
	}
	defer rows.Close()

	var out []AttentionAction
	for rows.Next() {
		var a AttentionAction
		var optionID, actor sql.NullString
		var ts int64
		if err := rows.Scan(&a.ID, &a.AttentionID, &a.Action, &optionID, &actor, &ts); err != nil {
			return nil, fmt.Errorf("store: scan attention action: %w", err)
		}
		a.OptionID = optionID.String
		a.Actor = actor.String
		a.Timestamp = fromMillis(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAttentionItem(r rowScanner) (*AttentionItem, error) {
	var item AttentionItem
	var createdAt, updatedAt int64
	if err := r.Scan(&item.ID, &item.SessionID, &item.Kind, &item.Severity, &item.Status,
		&item.Title, &item.Body, &item.Signature, &item.Options, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return &item, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
