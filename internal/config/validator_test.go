// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Project: ProjectConfig{Name: "demo", RepoDir: "/repo"},
		Server:  ServerConfig{Port: 8420},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	err := NewValidator().Validate(validConfig())
	assert.NoError(t, err)
}

func TestValidateRequiresProjectFields(t *testing.T) {
	cfg := &Config{}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.False(t, ve.IsEmpty())
}

func TestValidateTLSMutualExclusion(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLSTailscale = true
	cfg.Server.TLSCert = "cert.pem"
	cfg.Server.TLSKey = "key.pem"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
}

func TestValidateProfileRequiresKnownTool(t *testing.T) {
	cfg := validConfig()
	cfg.Profiles = map[string]ProfileConfig{
		"bad": {Tool: "gemini", Command: []string{"gemini"}},
	}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
}

func TestValidateAutomationQuestionMode(t *testing.T) {
	cfg := validConfig()
	cfg.Automation.QuestionMode = "bogus"
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
}
