package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/medpassport/internal/auth"
	"github.com/BradenHooton/medpassport/internal/handlers"
	"github.com/BradenHooton/medpassport/internal/identity"
	"github.com/BradenHooton/medpassport/internal/identity/identitytest"
	"github.com/BradenHooton/medpassport/internal/middleware"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/BradenHooton/medpassport/internal/recovery"
	"github.com/BradenHooton/medpassport/internal/repositories/memory"
	"github.com/BradenHooton/medpassport/internal/session"
	pkglogger "github.com/BradenHooton/medpassport/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, limit int) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := &identitytest.MockProvider{
		SignInFunc: func(ctx context.Context, email, password string) (*identity.SignInResult, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	machine := session.NewMachine(provider, recovery.NewHandler(provider, recovery.DefaultConfig(), logger),
		session.Config{Policy: models.DefaultTrustPolicy()}, logger, pkglogger.NewAuditLogger(logger))

	router := chi.NewRouter()
	RegisterRoutes(router,
		handlers.NewSessionHandler(machine, memory.NewSessionContextRepository(), logger),
		handlers.NewHealthHandler(nil, logger),
		Config{
			Cookie:    auth.CookieConfig{SameSite: "lax", MaxAge: time.Hour},
			CSRF:      middleware.CSRFConfig{SameSite: http.SameSiteLaxMode},
			RateLimit: middleware.RateLimitConfig{RequestsPerMinute: limit},
		},
		logger,
	)
	return router
}

func loginRequest() *http.Request {
	req := httptest.NewRequest("POST", "/session/login", strings.NewReader(`{"email":"dr@hospital.org","password":"wrong-pw"}`))
	req.RemoteAddr = "203.0.113.20:5000"
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: "csrf-1"})
	req.Header.Set(middleware.CSRFHeaderName, "csrf-1")
	return req
}

func TestRoutes_Health(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(t, 10).ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_SessionIssuesCookies(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(t, 10).ServeHTTP(w, httptest.NewRequest("GET", "/session", nil))
	require.Equal(t, http.StatusOK, w.Code)

	names := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		names[c.Name] = true
	}
	assert.True(t, names[auth.SessionCookieName])
	assert.True(t, names[middleware.CSRFCookieName])
}

func TestRoutes_PostRequiresCSRFToken(t *testing.T) {
	req := httptest.NewRequest("POST", "/session/logout", nil)
	w := httptest.NewRecorder()
	newRouter(t, 10).ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoutes_LoginIsRateLimited(t *testing.T) {
	router := newRouter(t, 2)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, loginRequest())
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, loginRequest())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
