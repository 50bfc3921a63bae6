package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const (
	CSRFCookieName = "portal_csrf"
	CSRFHeaderName = "X-CSRF-Token"
)

// CSRFConfig holds the cookie attributes of the CSRF token
type CSRFConfig struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// CSRFProtection implements the double-submit cookie pattern. Safe requests
// receive a readable token cookie; state-changing requests must echo it in
// the X-CSRF-Token header.
func CSRFProtection(config CSRFConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CSRFCookieName)

			if !isStateChangingMethod(r.Method) {
				if err != nil || cookie.Value == "" {
					http.SetCookie(w, &http.Cookie{
						Name:     CSRFCookieName,
						Value:    uuid.New().String(),
						Path:     "/",
						Domain:   config.Domain,
						Secure:   config.Secure,
						HttpOnly: false, // read by the portal frontend
						SameSite: config.SameSite,
					})
				}
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(CSRFHeaderName)
			if err != nil || cookie.Value == "" || header == "" ||
				subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
				logger.WarnContext(r.Context(), "csrf token missing or mismatched",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				http.Error(w, "CSRF token invalid", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
