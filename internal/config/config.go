package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/joho/godotenv"
)

// Store backends for the session context
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreValkey   = "valkey"
)

// Email senders
const (
	EmailLog = "log"
	EmailSES = "ses"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Trust    TrustConfig
	Provider ProviderConfig
	Auth     AuthConfig
	Email    EmailConfig
	Store    StoreConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	BaseURL         string // public portal URL, target of password reset links
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CookieDomain    string
	CookieSecure    bool
	CookieSameSite  string
	CookieMaxAge    time.Duration
	AuthRateLimit   int // requests per minute per IP on credential routes
	AllowedOrigins  []string
	TrustedProxies  []string // CIDR ranges whose X-Forwarded-For is believed
}

// TrustConfig holds the session trust policy knobs
type TrustConfig struct {
	SessionTimeout    time.Duration
	MFATrustWindow    time.Duration
	ClearMFAOnLogout  bool
	MinPasswordLength int
}

// ProviderConfig bounds calls to the identity provider
type ProviderConfig struct {
	Timeout                time.Duration
	RecoveryUpdateAttempts int
	RecoveryRetryInterval  time.Duration
}

type AuthConfig struct {
	JWTSecret           string
	TokenIssuer         string
	AccessTokenExpiry   time.Duration
	RecoveryTokenExpiry time.Duration
	RecoveryCodeExpiry  time.Duration
	ChallengeExpiry     time.Duration
	TOTPEncryptionKey   []byte
	TOTPIssuer          string
	TimingBaseDelay     time.Duration
	TimingRandomDelay   time.Duration
	CleanupInterval     time.Duration
}

type EmailConfig struct {
	Sender      string // "log" or "ses"
	AWSRegion   string
	FromAddress string
}

type StoreConfig struct {
	Backend        string
	ValkeyAddress  string
	ValkeyPassword string
	ValkeyPrefix   string
	ContextTTL     time.Duration // idle lifetime of a stored session context
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	totpKey, err := parseEncryptionKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "medpassport"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			BaseURL:         strings.TrimRight(getEnv("PORTAL_BASE_URL", "http://localhost:8080"), "/"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CookieDomain:    getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:    getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:  getEnv("COOKIE_SAMESITE", "lax"),
			CookieMaxAge:    getEnvAsDuration("SESSION_COOKIE_MAX_AGE", 24*time.Hour),
			AuthRateLimit:   getEnvAsInt("AUTH_RATE_LIMIT", 10),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
			TrustedProxies:  getEnvAsSlice("TRUSTED_PROXIES", nil),
		},
		Trust: TrustConfig{
			SessionTimeout:    getEnvAsDuration("SESSION_TIMEOUT", 30*time.Minute),
			MFATrustWindow:    getEnvAsDuration("MFA_TRUST_WINDOW", 2*time.Hour),
			ClearMFAOnLogout:  getEnvAsBool("CLEAR_MFA_ON_LOGOUT", false),
			MinPasswordLength: getEnvAsInt("MIN_PASSWORD_LENGTH", 6),
		},
		Provider: ProviderConfig{
			Timeout:                getEnvAsDuration("PROVIDER_TIMEOUT", 5*time.Second),
			RecoveryUpdateAttempts: getEnvAsInt("RECOVERY_UPDATE_ATTEMPTS", 3),
			RecoveryRetryInterval:  getEnvAsDuration("RECOVERY_RETRY_INTERVAL", 200*time.Millisecond),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			TokenIssuer:         getEnv("TOKEN_ISSUER", "medpassport"),
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			RecoveryTokenExpiry: getEnvAsDuration("RECOVERY_TOKEN_EXPIRY", 5*time.Minute),
			RecoveryCodeExpiry:  getEnvAsDuration("RECOVERY_CODE_EXPIRY", 1*time.Hour),
			ChallengeExpiry:     getEnvAsDuration("MFA_CHALLENGE_EXPIRY", 5*time.Minute),
			TOTPEncryptionKey:   totpKey,
			TOTPIssuer:          getEnv("TOTP_ISSUER", "Medical Passport"),
			TimingBaseDelay:     getEnvAsDuration("AUTH_TIMING_BASE_DELAY", 100*time.Millisecond),
			TimingRandomDelay:   getEnvAsDuration("AUTH_TIMING_RANDOM_DELAY", 50*time.Millisecond),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Email: EmailConfig{
			Sender:      getEnv("EMAIL_SENDER", EmailLog),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@medpassport.local"),
		},
		Store: StoreConfig{
			Backend:        getEnv("SESSION_STORE", StoreMemory),
			ValkeyAddress:  getEnv("VALKEY_ADDRESS", "localhost:6379"),
			ValkeyPassword: getEnv("VALKEY_PASSWORD", ""),
			ValkeyPrefix:   getEnv("VALKEY_PREFIX", "medpassport"),
			ContextTTL:     getEnvAsDuration("SESSION_CONTEXT_TTL", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if err := validateJWTSecret(c.Auth.JWTSecret, c.Server.Env); err != nil {
		return err
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres, StoreValkey:
		// identity data lives in postgres for both
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the %s store", c.Store.Backend)
		}
	default:
		return fmt.Errorf("SESSION_STORE must be one of memory, postgres, valkey (got %q)", c.Store.Backend)
	}

	switch c.Email.Sender {
	case EmailLog, EmailSES:
	default:
		return fmt.Errorf("EMAIL_SENDER must be log or ses (got %q)", c.Email.Sender)
	}

	if c.Trust.SessionTimeout <= 0 || c.Trust.MFATrustWindow <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT and MFA_TRUST_WINDOW must be positive")
	}
	if c.Trust.MinPasswordLength < 1 || c.Trust.MinPasswordLength > 72 {
		return fmt.Errorf("MIN_PASSWORD_LENGTH must be between 1 and 72")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.Provider.RecoveryUpdateAttempts < 1 {
		return fmt.Errorf("RECOVERY_UPDATE_ATTEMPTS must be at least 1")
	}

	return nil
}

// TrustPolicy returns the immutable policy the state machine evaluates against
func (c *Config) TrustPolicy() models.TrustPolicy {
	return models.TrustPolicy{
		SessionTimeout:    c.Trust.SessionTimeout,
		MFATrustWindow:    c.Trust.MFATrustWindow,
		ClearMFAOnLogout:  c.Trust.ClearMFAOnLogout,
		MinPasswordLength: c.Trust.MinPasswordLength,
	}
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseEncryptionKey decodes the hex TOTP_ENCRYPTION_KEY into 32 bytes
func parseEncryptionKey(value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsSlice splits a comma separated variable, dropping empty entries
func getEnvAsSlice(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
