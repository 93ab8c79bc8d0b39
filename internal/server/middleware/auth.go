// Package middleware holds the HTTP wrappers the API server chains around
// its routes.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	apiKeyHeader = "X-API-Key"
	// Browsers cannot set headers on a websocket handshake, so the hub
	// accepts the key as a query parameter instead.
	apiKeyQuery = "api_key"
)

// Auth requires apiKey on every request except the exact paths in public
// and CORS preflights. An empty apiKey turns the check off.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublic(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := credential(r)
			switch {
			case !ok:
				writeJSONError(w, http.StatusUnauthorized, "missing api key")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				writeJSONError(w, http.StatusUnauthorized, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p {
			return true
		}
	}
	return false
}

// credential reads the key from a Bearer token, the X-API-Key header or,
// on websocket upgrades only, the api_key query parameter.
func credential(r *http.Request) (string, bool) {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key, true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if key := r.URL.Query().Get(apiKeyQuery); key != "" {
			return key, true
		}
	}
	return "", false
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
