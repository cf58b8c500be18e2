// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// PatternMatcher matches event kinds against subscription patterns.
//
// Supported forms, in the vocabulary of this server's event kinds:
//
//	"*"                        everything
//	"inbox.respond"            exact kind
//	"codex.native.approval."   prefix (how prefix kinds are written in
//	                           EventFilter.Kinds and PrefixKinds)
//	"orchestration.*"          prefix, glob spelling
//	"*.exit"                   suffix
type PatternMatcher struct{}

// NewPatternMatcher creates a pattern matcher.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{}
}

// Match reports whether kind matches pattern.
func (pm *PatternMatcher) Match(kind, pattern string) bool {
	if pattern == "" || kind == "" {
		return false
	}
	cp, err := pm.Compile(pattern)
	if err != nil {
		return false
	}
	return cp.Match(kind)
}

// Compile parses a pattern once for repeated matching; subscriptions
// hold the compiled form for the bus's publish path.
func (pm *PatternMatcher) Compile(pattern string) (CompiledPattern, error) {
	if pattern == "" {
		return nil, errors.New("empty pattern")
	}

	switch {
	case pattern == "*":
		return matchFunc(func(string) bool { return true }), nil

	case strings.HasSuffix(pattern, ".*"):
		prefix := strings.TrimSuffix(pattern, "*")
		return matchFunc(func(kind string) bool {
			return strings.HasPrefix(kind, prefix)
		}), nil

	case strings.HasSuffix(pattern, "."):
		// The dotted-prefix spelling used by the digest whitelist
		// ("codex.native.approval.", "orchestration.question.").
		return matchFunc(func(kind string) bool {
			return strings.HasPrefix(kind, pattern)
		}), nil

	case strings.HasPrefix(pattern, "*."):
		suffix := strings.TrimPrefix(pattern, "*")
		return matchFunc(func(kind string) bool {
			return strings.HasSuffix(kind, suffix)
		}), nil

	default:
		return matchFunc(func(kind string) bool {
			return kind == pattern
		}), nil
	}
}

// CompiledPattern is a pre-parsed pattern.
type CompiledPattern interface {
	Match(kind string) bool
}

// matchFunc adapts a predicate to CompiledPattern.
type matchFunc func(kind string) bool

func (f matchFunc) Match(kind string) bool { return f(kind) }
