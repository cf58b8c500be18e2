// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

// schemaStatements is applied in order on every Open; each is
// idempotent (CREATE ... IF NOT EXISTS) so re-running at startup is safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		tool TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		tool_session_id TEXT,
		cwd TEXT NOT NULL,
		workspace_key TEXT,
		workspace_root TEXT,
		tree_path TEXT,
		label TEXT,
		pinned_slot INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		exit_code INTEGER,
		exit_signal TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_pinned_slot
		ON sessions(workspace_key, pinned_slot) WHERE pinned_slot IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		kind TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, ts)`,

	`CREATE TABLE IF NOT EXISTS output (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		data BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_output_session_ts ON output(session_id, ts)`,

	`CREATE TABLE IF NOT EXISTS workspace_presets (
		path TEXT NOT NULL,
		tool TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		overrides TEXT NOT NULL DEFAULT '{}',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (path, tool)
	)`,

	`CREATE TABLE IF NOT EXISTS attention_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'info',
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attention_signature_status ON attention_items(signature, status)`,
	`CREATE INDEX IF NOT EXISTS idx_attention_session_ts ON attention_items(session_id, updated_at)`,

	`CREATE TABLE IF NOT EXISTS attention_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attention_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		option_id TEXT,
		actor TEXT,
		ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attention_actions_attention ON attention_actions(attention_id, ts)`,

	`CREATE TABLE IF NOT EXISTS idempotency (
		key TEXT PRIMARY KEY,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS orchestrations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		project_path TEXT NOT NULL,
		status TEXT NOT NULL,
		dispatch_mode TEXT NOT NULL,
		orchestrator_session_id TEXT,
		state TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS pairing_codes (
		code TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		consumed_at INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS auth_tokens (
		token TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_used_at INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS command_presets (
		name TEXT PRIMARY KEY,
		command_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
}
