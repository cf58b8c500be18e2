// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/orchd/orchd/internal/apperr"
)

// CreatePairingCode inserts a freshly generated pairing code.
func (s *Store) CreatePairingCode(p PairingCode) error {
	_, err := s.db.Exec(`
		INSERT INTO pairing_codes (code, created_at, expires_at, attempts, max_attempts, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Code, unixMillis(p.CreatedAt), unixMillis(p.ExpiresAt), p.Attempts, p.MaxAttempts, nullableTime(p.ConsumedAt))
	if err != nil {
		return fmt.Errorf("store: create pairing code: %w", err)
	}
	return nil
}

// GetPairingCode fetches a pairing code, failing with CodeInvalidCode if
// it does not exist.
func (s *Store) GetPairingCode(code string) (*PairingCode, error) {
	row := s.db.QueryRow(`
		SELECT code, created_at, expires_at, attempts, max_attempts, consumed_at
		FROM pairing_codes WHERE code = ?`, code)
	p, err := scanPairingCode(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.CodeInvalidCode, code)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pairing code: %w", err)
	}
	return p, nil
}

// IncrementPairingAttempts records one more failed attempt against a
// pairing code and returns the updated attempt count.
func (s *Store) IncrementPairingAttempts(code string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin increment pairing attempts: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	if err := tx.QueryRow(`UPDATE pairing_codes SET attempts = attempts + 1 WHERE code = ? RETURNING attempts`, code).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("store: increment pairing attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit increment pairing attempts: %w", err)
	}
	return attempts, nil
}

// ConsumePairingCode marks a pairing code consumed at ts. Fails with
// CodeDuplicate if it was already consumed.
func (s *Store) ConsumePairingCode(code string, ts time.Time) error {
	res, err := s.db.Exec(`UPDATE pairing_codes SET consumed_at = ? WHERE code = ? AND consumed_at IS NULL`,
		unixMillis(ts), code)
	if err != nil {
		return fmt.Errorf("store: consume pairing code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: consume pairing code rows affected: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.CodeDuplicate, code)
	}
	return nil
}

// CreateAuthToken inserts a newly minted long-lived auth token.
func (s *Store) CreateAuthToken(t AuthToken) error {
	_, err := s.db.Exec(`INSERT INTO auth_tokens (token, created_at, last_used_at) VALUES (?, ?, ?)`,
		t.Token, unixMillis(t.CreatedAt), nullableTime(t.LastUsedAt))
	if err != nil {
		return fmt.Errorf("store: create auth token: %w", err)
	}
	return nil
}

// GetAuthToken fetches an auth token, failing with CodeUnauthorized if it
// does not exist.
func (s *Store) GetAuthToken(token string) (*AuthToken, error) {
	row := s.db.QueryRow(`SELECT token, created_at, last_used_at FROM auth_tokens WHERE token = ?`, token)
	t, err := scanAuthToken(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.CodeUnauthorized, "unknown token")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get auth token: %w", err)
	}
	return t, nil
}

// TouchAuthToken updates the last-used timestamp on a token.
func (s *Store) TouchAuthToken(token string, ts time.Time) error {
	_, err := s.db.Exec(`UPDATE auth_tokens SET last_used_at = ? WHERE token = ?`, unixMillis(ts), token)
	if err != nil {
		return fmt.Errorf("store: touch auth token: %w", err)
	}
	return nil
}

// RevokeAuthToken deletes a token outright.
func (s *Store) RevokeAuthToken(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("store: revoke auth token: %w", err)
	}
	return nil
}

func scanPairingCode(r rowScanner) (*PairingCode, error) {
	var p PairingCode
	var createdAt, expiresAt int64
	var consumedAt sql.NullInt64
	if err := r.Scan(&p.Code, &createdAt, &expiresAt, &p.Attempts, &p.MaxAttempts, &consumedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(createdAt)
	p.ExpiresAt = fromMillis(expiresAt)
	if consumedAt.Valid {
		t := fromMillis(consumedAt.Int64)
		p.ConsumedAt = &t
	}
	return &p, nil
}

func scanAuthToken(r rowScanner) (*AuthToken, error) {
	var t AuthToken
	var createdAt int64
	var lastUsedAt sql.NullInt64
	if err := r.Scan(&t.Token, &createdAt, &lastUsedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	if lastUsedAt.Valid {
		lu := fromMillis(lastUsedAt.Int64)
		t.LastUsedAt = &lu
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unixMillis(*t)
}
