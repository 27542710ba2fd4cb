package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// IdentityResolver turns a session's user id into an identity.
type IdentityResolver interface {
	Lookup(ctx context.Context, userID string) (Identity, error)
}

// Middleware attaches the identity of a valid session to the request
// context. Sessions whose user no longer exists are cleared; other lookup
// failures leave the cookie in place and serve the request anonymously.
func Middleware(sessions *Sessions, users IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid, ok := sessions.Parse(r); ok {
				id, err := users.Lookup(r.Context(), uid)
				switch {
				case errors.Is(err, ErrUserNotFound):
					slog.Warn("Dropping session for unknown user", "user_id", uid)
					sessions.Clear(w)
				case err != nil:
					slog.Error("Error resolving session", "user_id", uid, "error", err)
				default:
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth redirects anonymous HTML requests to /login and answers API
// requests with 401.
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			next(w, r)
			return
		}
		if wantsJSON(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
