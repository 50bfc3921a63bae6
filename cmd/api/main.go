package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/medpassport/internal/auth"
	"github.com/BradenHooton/medpassport/internal/background"
	"github.com/BradenHooton/medpassport/internal/config"
	"github.com/BradenHooton/medpassport/internal/handlers"
	"github.com/BradenHooton/medpassport/internal/identity"
	"github.com/BradenHooton/medpassport/internal/identity/local"
	middlewareCustom "github.com/BradenHooton/medpassport/internal/middleware"
	"github.com/BradenHooton/medpassport/internal/recovery"
	"github.com/BradenHooton/medpassport/internal/routes"
	"github.com/BradenHooton/medpassport/internal/services"
	"github.com/BradenHooton/medpassport/internal/session"
	pkghttp "github.com/BradenHooton/medpassport/pkg/http"
	pkglogger "github.com/BradenHooton/medpassport/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("session_store", cfg.Store.Backend))

	ipConfig, err := pkghttp.ParseIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize stores
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	stores, err := openBackend(startupCtx, cfg, logger)
	if err != nil {
		startupCancel()
		logger.Error("failed to initialize stores", slog.Any("error", err))
		os.Exit(1)
	}
	defer stores.close()

	// Email sender for recovery links
	var emailService services.EmailService = services.NewLogEmailService(logger)
	if cfg.Email.Sender == config.EmailSES {
		emailService, err = services.NewAWSSESEmailService(startupCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			startupCancel()
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	}
	startupCancel()

	// Built-in identity provider
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.TokenIssuer,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RecoveryTokenExpiry,
	)
	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize totp manager", slog.Any("error", err))
		os.Exit(1)
	}
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.TimingBaseDelay,
		RandomDelay: cfg.Auth.TimingRandomDelay,
	})

	localProvider := local.NewProvider(stores.identity, tokenManager, totpManager, timingDelay, emailService, local.Config{
		ChallengeExpiry:    cfg.Auth.ChallengeExpiry,
		RecoveryCodeExpiry: cfg.Auth.RecoveryCodeExpiry,
		MinPasswordLength:  cfg.Trust.MinPasswordLength,
	}, logger)
	provider := identity.NewBounded(localProvider, cfg.Provider.Timeout)

	// Session trust state machine
	recoveryHandler := recovery.NewHandler(provider, recovery.Config{
		MinPasswordLength: cfg.Trust.MinPasswordLength,
		UpdateAttempts:    cfg.Provider.RecoveryUpdateAttempts,
		RetryInterval:     cfg.Provider.RecoveryRetryInterval,
	}, logger)
	machine := session.NewMachine(provider, recoveryHandler, session.Config{
		Policy:           cfg.TrustPolicy(),
		ResetRedirectURL: cfg.Server.BaseURL + "/",
	}, logger, pkglogger.NewAuditLogger(logger))

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(machine, stores.sessions, logger)
	healthHandler := handlers.NewHealthHandler(stores.health, logger)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Server.CookieDomain,
		Secure:   cfg.Server.CookieSecure,
		SameSite: cfg.Server.CookieSameSite,
		MaxAge:   cfg.Server.CookieMaxAge,
	}
	rateLimit := middlewareCustom.DefaultAuthRateLimit()
	if cfg.Server.AuthRateLimit > 0 {
		rateLimit.RequestsPerMinute = cfg.Server.AuthRateLimit
	}
	rateLimit.IPConfig = ipConfig

	routes.RegisterRoutes(router, sessionHandler, healthHandler, routes.Config{
		Cookie: cookieConfig,
		CSRF: middlewareCustom.CSRFConfig{
			Domain:   cfg.Server.CookieDomain,
			Secure:   cfg.Server.CookieSecure,
			SameSite: http.SameSiteStrictMode,
		},
		RateLimit: rateLimit,
	}, logger)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(stores.expiring, stores.idle, cfg.Store.ContextTTL, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
