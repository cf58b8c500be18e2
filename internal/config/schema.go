// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level server configuration, loaded from HJSON.
type Config struct {
	Version  string         `json:"version"`
	Project  ProjectConfig  `json:"project"`
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Worktree WorktreeConfig `json:"worktree"`
	Profiles map[string]ProfileConfig `json:"profiles"`
	Automation AutomationDefaults `json:"automation"`
	Auth     AuthConfig     `json:"auth"`
	Events   EventsConfig   `json:"events"`
	Watch    WatchConfig    `json:"watch"`
	Logging  LoggingConfig  `json:"logging"`
}

// ProjectConfig identifies the git repository this server supervises.
type ProjectConfig struct {
	Name    string `json:"name"`
	RepoDir string `json:"repo_dir"`
}

// ServerConfig is the HTTP/WS bind configuration.
type ServerConfig struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	TLSCert      string `json:"tls_cert"`
	TLSKey       string `json:"tls_key"`
	TLSTailscale bool   `json:"tls_tailscale"`
}

// StoreConfig points at the SQLite database file.
type StoreConfig struct {
	DataDir string `json:"data_dir"`
	DBFile  string `json:"db_file"`
}

// WorktreeConfig governs where orchestration worktrees are provisioned.
type WorktreeConfig struct {
	CreateDir string `json:"create_dir"`
	Binaries  string `json:"binaries"`
}

// ProfileConfig describes how to spawn one named tool profile.
type ProfileConfig struct {
	Tool         string            `json:"tool"` // codex | claude | opencode
	Command      []string          `json:"command"`
	Env          map[string]string `json:"env"`
	Cwd          string            `json:"cwd"`
	ExtraArgs    []string          `json:"extra_args"`
	ClaudeAuthMode string          `json:"claude_auth_mode"` // api | subscription
}

// AutomationDefaults seeds the per-orchestration automation policy.
type AutomationDefaults struct {
	QuestionMode     string `json:"question_mode"`    // inline | orchestrator
	SteeringMode     string `json:"steering_mode"`     // off | passive_review
	YoloMode         bool   `json:"yolo_mode"`
	QuestionTimeoutMs int   `json:"question_timeout_ms"`
	ReviewIntervalMs  int   `json:"review_interval_ms"`
}

// AuthConfig governs pairing-code exchange and token lifetime.
type AuthConfig struct {
	PairingTTL           string `json:"pairing_ttl"`
	PairingMaxAttempts   int    `json:"pairing_max_attempts"`
	AllowQueryTokenAuth  bool   `json:"allow_query_token_auth"`
}

// EventsConfig governs event bus history retention.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig bounds the in-memory event ring buffer.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WatchConfig governs the watcher that reloads command-tier overrides
// (command-tiers.json in Dir).
type WatchConfig struct {
	Debounce string `json:"debounce"`
	Dir      string `json:"dir"`
}

// LoggingConfig governs the stdlib logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// ParseDuration parses a duration string that may carry a trailing "d"
// suffix for days, which time.ParseDuration does not understand.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
