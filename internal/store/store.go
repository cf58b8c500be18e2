// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store is the SQLite persistence layer: sessions, events,
// output chunks, workspace presets, attention items/actions, and
// idempotency records. It is the durable record behind the in-memory
// managers in internal/session, internal/attention, and
// internal/orchestration.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection and exposes per-domain accessors.
type Store struct {
	db *sql.DB
}

// Open creates dataDir if needed and opens (or creates) the database
// file at dataDir/dbFile in WAL mode, then ensures the schema exists.
func Open(dataDir, dbFile string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir %s: %w", dataDir, err)
	}

	dbPath := filepath.Join(dataDir, dbFile)
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // single-writer; SQLite serializes writes anyway

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", dbPath, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying connection, for components (e.g. digest
// history queries) that need direct SQL access.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return ensureColumns(s.db)
}

// ensureColumns performs the "lightweight migrations add columns on
// startup" idiom: ALTER TABLE ADD COLUMN for any column introduced
// after a table's original CREATE, ignoring the "duplicate column"
// error SQLite returns when it's already present.
func ensureColumns(db *sql.DB) error {
	for _, c := range columnAdditions {
		_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.table, c.definition))
		if err != nil && !isDuplicateColumnErr(err) {
			return fmt.Errorf("store: add column %s.%s: %w", c.table, c.definition, err)
		}
	}
	return nil
}

func isDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// columnAddition describes one ALTER TABLE ADD COLUMN applied at
// startup, for fields added to the schema after its initial release.
type columnAddition struct {
	table      string
	definition string
}

// columnAdditions is intentionally empty at this schema version; new
// entries land here as the row shapes above it evolve.
var columnAdditions = []columnAddition{}
