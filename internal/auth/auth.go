package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// exemptPaths are always public regardless of auth configuration.
var exemptPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// readOnlyPaths are public for GET and HEAD. Writes to the catalog or the
// clock always require a token.
var readOnlyPaths = map[string]bool{
	"/api/v1/catalog":          true,
	"/api/v1/clock":            true,
	"/api/v1/snapshot":         true,
	"/api/v1/snapshot/history": true,
	"/api/v1/history/stats":    true,
}

// readOnlyPrefixes are path prefixes that are public for GET and HEAD.
var readOnlyPrefixes = []string{
	"/api/v1/catalog/",
	"/api/v1/stream/",
}

// isExempt returns true if the request is exempt from auth.
func isExempt(method, path string) bool {
	if exemptPaths[path] {
		return true
	}
	if method != http.MethodGet && method != http.MethodHead {
		return false
	}
	if readOnlyPaths[path] {
		return true
	}
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware returns an HTTP middleware that enforces Bearer token auth
// on non-exempt paths when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || isExempt(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")

			if header == "" || token == header || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
