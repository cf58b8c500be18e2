// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package command is the execution gate for named orchestration
// commands: payload validation against a JSON-schema subset, risk-tier
// policy evaluation, prompt-packet materialization, and SQLite-backed
// idempotency replay.
package command

import (
	"fmt"
	"math"
	"strings"
)

// Schema is a JSON-schema subset node, kept as a plain map so command
// envelopes can be declared inline as map literals.
type Schema map[string]any

// ValidationResult accumulates schema violations instead of stopping at
// the first, so a caller sees everything wrong with a payload at once.
type ValidationResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// ValidatePayload walks payload against schema and enforces the
// command's requiredNonEmpty / requiredAnyOf predicates on top.
func ValidatePayload(spec *Spec, payload map[string]any) ValidationResult {
	var errs []string
	walkSchema("", Schema(spec.Envelope), payload, &errs)

	for _, field := range spec.RequiredNonEmpty {
		v, ok := payload[field]
		s, isStr := v.(string)
		if !ok || (isStr && strings.TrimSpace(s) == "") {
			errs = append(errs, fmt.Sprintf("%s: must be present and non-empty", field))
		}
	}
	if len(spec.RequiredAnyOf) > 0 {
		found := false
		for _, field := range spec.RequiredAnyOf {
			if v, ok := payload[field]; ok {
				if s, isStr := v.(string); !isStr || strings.TrimSpace(s) != "" {
					found = true
					break
				}
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("one of %s is required", strings.Join(spec.RequiredAnyOf, "|")))
		}
	}

	return ValidationResult{OK: len(errs) == 0, Errors: errs}
}

// walkSchema validates value against node, appending violations to errs
// with a JSON-pointer-ish path prefix.
func walkSchema(path string, node Schema, value any, errs *[]string) {
	if anyOf, ok := node["anyOf"].([]any); ok {
		for _, alt := range anyOf {
			if altMap, ok := alt.(map[string]any); ok {
				var altErrs []string
				walkSchema(path, Schema(altMap), value, &altErrs)
				if len(altErrs) == 0 {
					return
				}
			}
		}
		*errs = append(*errs, at(path, "no anyOf alternative matched"))
		return
	}

	if c, ok := node["const"]; ok {
		if !looseEqual(c, value) {
			*errs = append(*errs, at(path, fmt.Sprintf("must equal %v", c)))
		}
		return
	}
	if enum, ok := node["enum"].([]any); ok {
		for _, e := range enum {
			if looseEqual(e, value) {
				return
			}
		}
		*errs = append(*errs, at(path, fmt.Sprintf("must be one of %v", enum)))
		return
	}

	typ, _ := node["type"].(string)
	switch typ {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			*errs = append(*errs, at(path, "must be an object"))
			return
		}
		props, _ := node["properties"].(map[string]any)
		if required, ok := node["required"].([]any); ok {
			for _, r := range required {
				name, _ := r.(string)
				if _, present := obj[name]; !present {
					*errs = append(*errs, at(path, "missing required property "+name))
				}
			}
		}
		additional := true
		if ap, ok := node["additionalProperties"].(bool); ok {
			additional = ap
		}
		for key, val := range obj {
			propNode, known := props[key]
			if !known {
				if !additional {
					*errs = append(*errs, at(path, "unknown property "+key))
				}
				continue
			}
			if propMap, ok := propNode.(map[string]any); ok {
				walkSchema(joinPath(path, key), Schema(propMap), val, errs)
			}
		}

	case "string":
		s, ok := value.(string)
		if !ok {
			*errs = append(*errs, at(path, "must be a string"))
			return
		}
		if min, ok := intOpt(node, "minLength"); ok && len(s) < min {
			*errs = append(*errs, at(path, fmt.Sprintf("must be at least %d chars", min)))
		}
		if max, ok := intOpt(node, "maxLength"); ok && len(s) > max {
			*errs = append(*errs, at(path, fmt.Sprintf("must be at most %d chars", max)))
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, at(path, "must be a boolean"))
		}

	case "integer":
		f, ok := value.(float64)
		if !ok {
			if _, isInt := value.(int); isInt {
				f = float64(value.(int))
				ok = true
			}
		}
		if !ok || f != math.Trunc(f) {
			*errs = append(*errs, at(path, "must be an integer"))
			return
		}
		if min, ok := intOpt(node, "minimum"); ok && f < float64(min) {
			*errs = append(*errs, at(path, fmt.Sprintf("must be >= %d", min)))
		}
		if max, ok := intOpt(node, "maximum"); ok && f > float64(max) {
			*errs = append(*errs, at(path, fmt.Sprintf("must be <= %d", max)))
		}

	case "array":
		arr, ok := value.([]any)
		if !ok {
			*errs = append(*errs, at(path, "must be an array"))
			return
		}
		if min, ok := intOpt(node, "minItems"); ok && len(arr) < min {
			*errs = append(*errs, at(path, fmt.Sprintf("must have at least %d items", min)))
		}
		if max, ok := intOpt(node, "maxItems"); ok && len(arr) > max {
			*errs = append(*errs, at(path, fmt.Sprintf("must have at most %d items", max)))
		}
		if items, ok := node["items"].(map[string]any); ok {
			for i, item := range arr {
				walkSchema(fmt.Sprintf("%s[%d]", path, i), Schema(items), item, errs)
			}
		}

	case "":
		// untyped node: nothing further to check
	default:
		*errs = append(*errs, at(path, "unsupported schema type "+typ))
	}
}

func intOpt(node Schema, key string) (int, bool) {
	switch v := node[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// looseEqual compares schema literals against decoded JSON values,
// tolerating the int-vs-float64 split json.Unmarshal introduces.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func at(path, msg string) string {
	if path == "" {
		return msg
	}
	return path + ": " + msg
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
