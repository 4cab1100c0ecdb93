package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"gatescan/internal/domain/session"
)

// openPaths bypass session auth: login has no session yet, health, liveness
// and metrics are probed by infra.
var openPaths = map[string]bool{
	"/health":    true,
	"/livez":     true,
	"/metrics":   true,
	"/api/login": true,
}

// SessionAuth requires the backend token of the stored session as a bearer
// credential on every local API call. The kiosk UI holds the token after
// login; anything else on the LAN is locked out.
func SessionAuth(store session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if token == "" {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			sess, err := store.Load()
			if err != nil {
				if errors.Is(err, session.ErrNotFound) {
					http.Error(w, "no active session", http.StatusUnauthorized)
					return
				}
				http.Error(w, "session store error", http.StatusInternalServerError)
				return
			}

			// constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(token), []byte(sess.Token)) != 1 {
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
