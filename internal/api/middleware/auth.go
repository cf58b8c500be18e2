// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"os"
	"strings"
)

// AllowQueryTokenEnv opts in to accepting ?token= as authentication,
// for browser WebSocket clients that cannot set headers.
const AllowQueryTokenEnv = "FYP_ALLOW_QUERY_TOKEN_AUTH"

// Authenticator validates an opaque bearer token.
type Authenticator interface {
	Authenticate(token string) error
}

// pairingPaths are reachable without a token; everything else requires
// one.
var pairingPaths = map[string]bool{
	"/api/v1/auth/pairing":  true,
	"/api/v1/auth/exchange": true,
	"/healthz":              true,
}

// Auth guards every route behind token authentication. The token comes
// from the Authorization bearer header, the auth cookie, or (when the
// env opt-in is set) the token query parameter.
func Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pairingPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if err := authn.Authenticate(token); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":{"code":"unauthorized","message":"missing or invalid token"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	if c, err := r.Cookie("orchd_token"); err == nil && c.Value != "" {
		return c.Value
	}
	if queryTokenAllowed() {
		if t := r.URL.Query().Get("token"); t != "" {
			return t
		}
	}
	return ""
}

func queryTokenAllowed() bool {
	v := strings.TrimSpace(os.Getenv(AllowQueryTokenEnv))
	return v == "1" || strings.EqualFold(v, "true")
}
