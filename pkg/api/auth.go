package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// AuthConfig holds authentication credentials for the API middleware.
type AuthConfig struct {
	Users   map[string]string // username -> password
	APIKeys map[string]bool   // valid API key tokens
}

// publicPaths are served without credentials.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authMiddleware accepts HTTP Basic credentials, a Bearer token or an
// X-API-Key header.
func authMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if principal, ok := cfg.authenticate(r); ok {
			slog.Debug("api request", "principal", principal, "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}
		slog.Debug("api authentication failed", "remote", r.RemoteAddr, "path", r.URL.Path)
		w.Header().Set("WWW-Authenticate", `Basic realm="vtnflow API"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
	})
}

// authenticate returns the user name, or "api-key", for valid credentials.
func (cfg AuthConfig) authenticate(r *http.Request) (string, bool) {
	if user, pass, ok := r.BasicAuth(); ok {
		expected, exists := cfg.Users[user]
		if exists && subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) == 1 {
			return user, true
		}
		return "", false
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return "api-key", cfg.validKey(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "api-key", cfg.validKey(key)
	}
	return "", false
}

func (cfg AuthConfig) validKey(key string) bool {
	return key != "" && cfg.APIKeys[key]
}
