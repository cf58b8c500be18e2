// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth implements token authentication bootstrapped by
// one-shot pairing codes: a short numeric code with a TTL and a
// bounded attempt budget is exchanged exactly once for a long-lived
// opaque token.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/store"
)

const (
	defaultPairingTTL    = 5 * time.Minute
	defaultMaxAttempts   = 5
	tokenBytes           = 32
	pairingCodeDigits    = 6
)

// Config tunes pairing behavior.
type Config struct {
	PairingTTL  time.Duration
	MaxAttempts int
}

// Manager issues pairing codes and validates tokens.
type Manager struct {
	mu    sync.Mutex
	store *store.Store
	cfg   Config

	// activeCode is the latest issued, not-yet-consumed pairing code.
	// Wrong submissions count against it; a new request replaces it.
	activeCode string
}

// NewManager creates an auth manager.
func NewManager(st *store.Store, cfg Config) *Manager {
	if cfg.PairingTTL <= 0 {
		cfg.PairingTTL = defaultPairingTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Manager{store: st, cfg: cfg}
}

// PairingOffer is the result of RequestPairingCode.
type PairingOffer struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RequestPairingCode mints a fresh 6-digit code, replacing any
// previously active one.
func (m *Manager) RequestPairingCode() (*PairingOffer, error) {
	code, err := randomDigits(pairingCodeDigits)
	if err != nil {
		return nil, fmt.Errorf("auth: generate pairing code: %w", err)
	}

	now := time.Now()
	expires := now.Add(m.cfg.PairingTTL)
	if err := m.store.CreatePairingCode(store.PairingCode{
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   expires,
		MaxAttempts: m.cfg.MaxAttempts,
	}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.activeCode = code
	m.mu.Unlock()

	return &PairingOffer{Code: code, ExpiresAt: expires}, nil
}

// ExchangeCode trades a pairing code for a long-lived token. Wrong
// submissions burn one attempt of the active code; five failures lock
// it until a new code is requested.
func (m *Manager) ExchangeCode(submitted string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCode == "" {
		return "", apperr.New(apperr.CodeInvalidCode, "no pairing code requested")
	}

	active, err := m.store.GetPairingCode(m.activeCode)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if now.After(active.ExpiresAt) {
		return "", apperr.New(apperr.CodeExpired, "pairing code expired")
	}
	if active.Attempts >= active.MaxAttempts {
		return "", apperr.New(apperr.CodeLocked, "pairing code locked")
	}

	if submitted != active.Code {
		attempts, err := m.store.IncrementPairingAttempts(active.Code)
		if err != nil {
			return "", err
		}
		if attempts >= active.MaxAttempts {
			return "", apperr.New(apperr.CodeLocked, "pairing code locked")
		}
		return "", apperr.New(apperr.CodeInvalidCode, "wrong pairing code")
	}

	if err := m.store.ConsumePairingCode(active.Code, now); err != nil {
		return "", err
	}
	m.activeCode = ""

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	token := hex.EncodeToString(raw)
	if err := m.store.CreateAuthToken(store.AuthToken{Token: token, CreatedAt: now}); err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate validates a token and bumps its last-used timestamp.
func (m *Manager) Authenticate(token string) error {
	if token == "" {
		return apperr.New(apperr.CodeUnauthorized, "missing token")
	}
	if _, err := m.store.GetAuthToken(token); err != nil {
		return err
	}
	return m.store.TouchAuthToken(token, time.Now())
}

// Revoke deletes a token.
func (m *Manager) Revoke(token string) error {
	return m.store.RevokeAuthToken(token)
}

// randomDigits returns n crypto-random decimal digits.
func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
