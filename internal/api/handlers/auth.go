// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/auth"
)

// AuthHandler serves pairing and token exchange.
type AuthHandler struct {
	auth *auth.Manager
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(a *auth.Manager) *AuthHandler {
	return &AuthHandler{auth: a}
}

// Pairing mints a new one-shot pairing code.
func (h *AuthHandler) Pairing(w http.ResponseWriter, r *http.Request) {
	offer, err := h.auth.RequestPairingCode()
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, offer)
}

type exchangeRequest struct {
	Code string `json:"code"`
}

// Exchange trades a pairing code for a long-lived token. The token is
// also set as a cookie for browser clients.
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	if req.Code == "" {
		WriteAppError(w, apperr.New(apperr.CodeInvalidCode, "code is required"))
		return
	}
	token, err := h.auth.ExchangeCode(req.Code)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "orchd_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

type revokeRequest struct {
	Token string `json:"token"`
}

// Revoke deletes a token.
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteAppError(w, err)
		return
	}
	if err := h.auth.Revoke(req.Token); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
