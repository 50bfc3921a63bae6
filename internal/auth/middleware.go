package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the session id in context
	SessionContextKey contextKey = "session_id"
)

// SessionMiddleware makes sure every request carries a session id. Requests
// without a well-formed portal_session cookie get a fresh random id, and the
// cookie is set on the response.
func SessionMiddleware(config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := GetSessionCookie(r)
			if err != nil || uuid.Validate(sessionID) != nil {
				sessionID = uuid.New().String()
			}
			// Refreshed on every request so MaxAge is a sliding idle limit.
			SetSessionCookie(w, sessionID, config)

			ctx := context.WithValue(r.Context(), SessionContextKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionID extracts the session id from request context
func GetSessionID(r *http.Request) string {
	sessionID, ok := r.Context().Value(SessionContextKey).(string)
	if !ok {
		return ""
	}
	return sessionID
}
