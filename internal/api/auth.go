// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/lumenhq/beacon/internal/log"
)

// ExtractStreamToken retrieves the stream credential from the request.
// The query parameter comes first: EventSource clients cannot set custom
// headers, so ?token= is the primary channel and the Authorization header
// the fallback.
func ExtractStreamToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// authorizeOperator returns true if got matches expected using constant-time
// comparison. Empty tokens are always unauthorized, so an unset operator
// token disables the operator surface entirely.
func authorizeOperator(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// requireOperator guards the operator endpoints with the static token.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimSpace(auth[7:])
		}
		if !authorizeOperator(token, s.cfg.OperatorToken) {
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("operator authorization failed")
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
