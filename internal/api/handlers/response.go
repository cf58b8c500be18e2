// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers holds the thin HTTP handlers of the external
// surface: decode request, call the owning core component, encode the
// result. No business logic lives here.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/orchd/orchd/internal/apperr"
)

// Response is the standard API response wrapper.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
	Meta  *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo carries the stable error code plus detail.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MetaInfo contains response metadata.
type MetaInfo struct {
	Timestamp time.Time `json:"timestamp"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	resp := Response{
		Data: data,
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with an explicit status/code.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	resp := Response{
		Error: &ErrorInfo{Code: code, Message: message},
		Meta:  &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteAppError maps a coded error onto its HTTP status and writes it.
func WriteAppError(w http.ResponseWriter, err error) {
	coded, ok := apperr.As(err)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	resp := Response{
		Error: &ErrorInfo{Code: coded.Code, Message: coded.Error(), Details: coded.Detail},
		Meta:  &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(coded.Code))
	json.NewEncoder(w).Encode(resp)
}

// statusFor maps the §7 error taxonomy onto HTTP statuses.
func statusFor(code string) int {
	switch code {
	case apperr.CodeBadInput, apperr.CodeBadBranch, apperr.CodeInvalidCommandPayload,
		apperr.CodeMissingProjectPath, apperr.CodeNoTargets, apperr.CodeTerminalModeDisabled,
		apperr.CodeInvalidCode:
		return http.StatusBadRequest
	case apperr.CodeUnknownSession, apperr.CodeUnknownAttentionItem:
		return http.StatusNotFound
	case apperr.CodeSessionAlreadyExists, apperr.CodeOrchestrationLocked, apperr.CodeDuplicate,
		apperr.CodeSessionRunning:
		return http.StatusConflict
	case apperr.CodePolicyBlocked:
		return http.StatusForbidden
	case apperr.CodeUnauthorized, apperr.CodeExpired:
		return http.StatusUnauthorized
	case apperr.CodeLocked:
		return http.StatusTooManyRequests
	case apperr.CodeNotAGitRepo, apperr.CodeBadGitDir, apperr.CodeBranchCheckedOut,
		apperr.CodePathExists, apperr.CodeCreateFailed, apperr.CodeWorktreeListFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a request body into dst, tolerating an empty body.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if err.Error() == "EOF" {
			return nil
		}
		return apperr.Wrap(apperr.CodeBadInput, err)
	}
	return nil
}
