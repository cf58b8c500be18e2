// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// TemplateContext is the data made available to {{ }} placeholders in
// config values such as worktree.binaries and profile overrides.
type TemplateContext struct {
	Worktree WorktreeTemplateData
	Project  ProjectTemplateData
}

// WorktreeTemplateData exposes one provisioned worktree's identity to
// templates.
type WorktreeTemplateData struct {
	Root   string
	Name   string
	Branch string
}

// ProjectTemplateData exposes the supervised repo's identity to
// templates.
type ProjectTemplateData struct {
	Name string
}

// TemplateExpander expands Go text/template placeholders in config
// string values, e.g. worktree.binaries = "{{.Worktree.Root}}/bin".
type TemplateExpander struct {
	funcMap template.FuncMap
}

// NewTemplateExpander creates an expander with the built-in helper
// functions available to templates.
func NewTemplateExpander() *TemplateExpander {
	return &TemplateExpander{
		funcMap: template.FuncMap{
			"slugify": Slugify,
			"replace": strings.ReplaceAll,
			"upper":   strings.ToUpper,
			"lower":   strings.ToLower,
			"default": Default,
		},
	}
}

// Expand substitutes {{ }} placeholders in value using ctx. Values
// with no placeholders are returned unchanged without parsing.
func (e *TemplateExpander) Expand(value string, ctx *TemplateContext) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}

	tmpl, err := template.New("").Funcs(e.funcMap).Parse(value)
	if err != nil {
		return "", fmt.Errorf("config: template %q: %w", value, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("config: expand %q: %w", value, err)
	}
	return buf.String(), nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses runs of non-alphanumeric
// characters into a single hyphen, trimming leading/trailing hyphens.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Default returns fallback when value is empty.
func Default(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
