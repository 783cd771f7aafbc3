package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/bpqa-go/internal/logging"
)

// requireAPIKey guards the routes that spend model calls or expose past
// questions. With an empty key it returns next unchanged.
//
// Callers authenticate with
//
//	Authorization: Bearer <key>
//
// The presented token is never logged.
func requireAPIKey(key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	want := []byte(key)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if ok && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		log := logging.FromContext(r.Context())
		challenge := `Bearer realm="bpqa"`
		msg := "an API key is required"
		if ok {
			challenge += `, error="invalid_token"`
			msg = "the API key is not valid"
		}
		log.Warn("auth: request rejected", slog.Bool("token_present", ok))
		w.Header().Set("WWW-Authenticate", challenge)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msg}, log)
	})
}

// bearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
