// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import "fmt"

// FieldError is one failed validation on a specific config field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError aggregates every FieldError found in one pass so a
// caller sees all problems at once instead of one-at-a-time.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

func (e *ValidationError) IsEmpty() bool { return len(e.Errors) == 0 }

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ""
	}
	msg := fmt.Sprintf("%d config error(s):", len(e.Errors))
	for _, fe := range e.Errors {
		msg += fmt.Sprintf("\n  %s: %s", fe.Field, fe.Message)
	}
	return msg
}

// Validator checks a loaded Config for internal consistency beyond
// what the JSON struct tags already enforce.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// Validate runs every sub-validator and returns a non-nil
// *ValidationError if any field failed, or nil if the config is sound.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateRequired(cfg, errs)
	v.validateServer(cfg, errs)
	v.validateProfiles(cfg, errs)
	v.validateAutomation(cfg, errs)
	v.validateAuth(cfg, errs)
	v.validateLogging(cfg, errs)
	v.validateDurations(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateRequired(cfg *Config, errs *ValidationError) {
	if cfg.Project.Name == "" {
		errs.Add("project.name", "is required")
	}
	if cfg.Project.RepoDir == "" {
		errs.Add("project.repo_dir", "is required")
	}
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 0 and 65535")
	}

	hasCertKey := cfg.Server.TLSCert != "" || cfg.Server.TLSKey != ""
	if cfg.Server.TLSTailscale && hasCertKey {
		errs.Add("server", "tls_tailscale and tls_cert/tls_key are mutually exclusive")
	}
	if !cfg.Server.TLSTailscale && (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs.Add("server", "both tls_cert and tls_key must be specified together")
	}
}

func (v *Validator) validateProfiles(cfg *Config, errs *ValidationError) {
	validTools := map[string]bool{"codex": true, "claude": true, "opencode": true}

	for id, p := range cfg.Profiles {
		prefix := fmt.Sprintf("profiles.%s", id)
		if !validTools[p.Tool] {
			errs.Add(prefix+".tool", fmt.Sprintf("invalid tool '%s', must be one of: codex, claude, opencode", p.Tool))
		}
		if len(p.Command) == 0 {
			errs.Add(prefix+".command", "is required")
		}
		if p.Tool == "claude" && p.ClaudeAuthMode != "" && p.ClaudeAuthMode != "api" && p.ClaudeAuthMode != "subscription" {
			errs.Add(prefix+".claude_auth_mode", "must be 'api' or 'subscription'")
		}
	}
}

func (v *Validator) validateAutomation(cfg *Config, errs *ValidationError) {
	validQuestionModes := map[string]bool{"": true, "inline": true, "orchestrator": true}
	if !validQuestionModes[cfg.Automation.QuestionMode] {
		errs.Add("automation.question_mode", "must be 'inline' or 'orchestrator'")
	}
	validSteeringModes := map[string]bool{"": true, "off": true, "passive_review": true}
	if !validSteeringModes[cfg.Automation.SteeringMode] {
		errs.Add("automation.steering_mode", "must be 'off' or 'passive_review'")
	}
}

func (v *Validator) validateAuth(cfg *Config, errs *ValidationError) {
	if cfg.Auth.PairingTTL != "" {
		if d, err := ParseDuration(cfg.Auth.PairingTTL); err != nil {
			errs.Add("auth.pairing_ttl", fmt.Sprintf("invalid duration: %s", err))
		} else if d <= 0 {
			errs.Add("auth.pairing_ttl", "must be positive")
		}
	}
	if cfg.Auth.PairingMaxAttempts < 0 {
		errs.Add("auth.pairing_max_attempts", "must not be negative")
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}
	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Logging.Format))
		}
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	if cfg.Watch.Debounce != "" {
		if d, err := ParseDuration(cfg.Watch.Debounce); err != nil {
			errs.Add("watch.debounce", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("watch.debounce", "must be positive")
		}
	}
	if cfg.Events.History.MaxAge != "" {
		if d, err := ParseDuration(cfg.Events.History.MaxAge); err != nil {
			errs.Add("events.history.max_age", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("events.history.max_age", "must be positive")
		}
	}
}
