// internal/middleware/session.go

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/partydeck/partydeck/internal/auth"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionMiddleware resolves the caller's guest session from the auth_token
// cookie or an Authorization bearer header and stores it on the request
// context. Requests without a valid token pass through anonymously.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if c, err := r.Cookie("auth_token"); err == nil {
			token = c.Value
		} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token != "" {
			if s, err := auth.AuthenticateJWT(token); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), sessionKey, s))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession rejects requests that did not resolve to a session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFrom(r.Context()); !ok {
			http.Error(w, "missing auth_token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFrom returns the session stored by SessionMiddleware, if any.
func SessionFrom(ctx context.Context) (auth.Session, bool) {
	s, ok := ctx.Value(sessionKey).(auth.Session)
	return s, ok
}
