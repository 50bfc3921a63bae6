package routes

import (
	"log/slog"

	"github.com/BradenHooton/medpassport/internal/auth"
	"github.com/BradenHooton/medpassport/internal/handlers"
	"github.com/BradenHooton/medpassport/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Config holds the per-route middleware settings
type Config struct {
	Cookie    auth.CookieConfig
	CSRF      middleware.CSRFConfig
	RateLimit middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	sessionHandler *handlers.SessionHandler,
	healthHandler *handlers.HealthHandler,
	cfg Config,
	logger *slog.Logger,
) {
	router.Get("/health", healthHandler.Health)

	// Everything else belongs to a browser session
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(cfg.Cookie))
		r.Use(middleware.CSRFProtection(cfg.CSRF, logger))

		r.Get("/session", sessionHandler.Tick)
		r.Post("/session/cancel", sessionHandler.Cancel)
		r.Post("/session/logout", sessionHandler.Logout)

		r.Get("/mfa/factors", sessionHandler.ListFactors)
		r.Post("/mfa/factors", sessionHandler.EnrollFactor)
		r.Delete("/mfa/factors/{id}", sessionHandler.UnenrollFactor)

		// Routes that take a secret are rate limited per client
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(cfg.RateLimit))

			r.Post("/session/login", sessionHandler.Login)
			r.Post("/session/mfa/verify", sessionHandler.VerifyMFA)
			r.Post("/session/recovery/reset", sessionHandler.ResetPassword)
			r.Post("/accounts/signup", sessionHandler.SignUp)
			r.Post("/accounts/password-reset", sessionHandler.RequestPasswordReset)
		})
	})
}
