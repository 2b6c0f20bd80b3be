package middleware

import (
	"net/http"

	"github.com/go-charity/auth-server/internal/logging"
	"github.com/go-charity/auth-server/internal/security"
)

// APIKey rejects requests whose Api-Key header is not the base64 encoding of expected.
// Paths in skip (e.g. health probes) are let through.
func APIKey(expected string, skip map[string]bool, log logging.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logging.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if !security.APIKeyMatches(r.Header.Get(HeaderAPIKey), expected) {
				log.Info(r.Context(), "api key rejected", "path", r.URL.Path, "ip", RequestIP(r))
				http.Error(w, `"Unauthorized"`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
