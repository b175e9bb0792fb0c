package api

import (
	"crypto/subtle"
	"net/http"
)

// apiKeyMiddleware guards the admin routes with a shared key in X-API-Key.
// An empty configured key disables the admin surface entirely rather than
// leaving it open.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				respondError(w, http.StatusForbidden, "admin API is disabled")
				return
			}
			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
