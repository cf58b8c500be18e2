// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the server's HJSON configuration file and
// validates it before the rest of the process wires up against it.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	hjson "github.com/hjson/hjson-go/v4"
)

// configFileNames are tried in order in the current working directory
// when no explicit path is given.
var configFileNames = []string{"orchd.hjson", "orchd.json"}

// Loader parses the on-disk config into a typed Config.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader { return &Loader{} }

// Load reads the file at path, parsing it as HJSON (a superset of
// JSON), and round-trips it through encoding/json into Config so field
// tags and types are enforced the same way a strict JSON config would be.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var generic map[string]interface{}
	if err := hjson.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("config: normalize %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(normalized, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads path and fills in any zero-valued fields with
// the server's defaults.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig looks for a known config filename in the current working
// directory, returning the first one found.
func FindConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for _, name := range configFileNames {
		p := filepath.Join(cwd, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("config: no %v found in %s", configFileNames, cwd)
}

func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Store.DBFile == "" {
		cfg.Store.DBFile = "orchd.db"
	}
	if cfg.Worktree.CreateDir == "" {
		cfg.Worktree.CreateDir = ".worktrees"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "300ms"
	}
	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 5000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "24h"
	}
	if cfg.Automation.QuestionMode == "" {
		cfg.Automation.QuestionMode = "inline"
	}
	if cfg.Automation.SteeringMode == "" {
		cfg.Automation.SteeringMode = "off"
	}
	if cfg.Automation.QuestionTimeoutMs == 0 {
		cfg.Automation.QuestionTimeoutMs = 5 * 60 * 1000
	}
	if cfg.Automation.ReviewIntervalMs == 0 {
		cfg.Automation.ReviewIntervalMs = 60 * 1000
	}
	if cfg.Auth.PairingTTL == "" {
		cfg.Auth.PairingTTL = "5m"
	}
	if cfg.Auth.PairingMaxAttempts == 0 {
		cfg.Auth.PairingMaxAttempts = 5
	}
	if os.Getenv("FYP_ALLOW_QUERY_TOKEN_AUTH") == "1" {
		cfg.Auth.AllowQueryTokenAuth = true
	}
}
