// Package local is the built-in identity provider. It keeps users, factors
// and recovery codes in the configured repositories and issues its own
// signed tokens, so the portal can run without an external provider.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/medpassport/internal/auth"
	"github.com/BradenHooton/medpassport/internal/identity"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/BradenHooton/medpassport/internal/services"
	pkgauth "github.com/BradenHooton/medpassport/pkg/auth"
	pkglogger "github.com/BradenHooton/medpassport/pkg/logger"
)

// UserStore defines the user operations the provider needs
type UserStore interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
}

// FactorStore defines the MFA factor operations the provider needs
type FactorStore interface {
	Create(ctx context.Context, f *models.Factor) (*models.Factor, error)
	GetByID(ctx context.Context, id string) (*models.Factor, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Factor, error)
	RecordUse(ctx context.Context, id string, step, at time.Time) error
	Delete(ctx context.Context, id, userID string) error
}

type ChallengeStore interface {
	Create(ctx context.Context, c *models.Challenge) error
	Consume(ctx context.Context, id, factorID string, at time.Time) error
}

type RecoveryCodeStore interface {
	Create(ctx context.Context, rc *models.RecoveryCode) error
	Consume(ctx context.Context, codeHash string, at time.Time) (*models.RecoveryCode, error)
}

type RevocationStore interface {
	RevokeToken(ctx context.Context, token *models.RevokedToken) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Stores groups the repositories backing the provider
type Stores struct {
	Users       UserStore
	Factors     FactorStore
	Challenges  ChallengeStore
	Recovery    RecoveryCodeStore
	Revocations RevocationStore
}

// Config holds provider configuration
type Config struct {
	ChallengeExpiry    time.Duration
	RecoveryCodeExpiry time.Duration
	MinPasswordLength  int
	BcryptCost         int
}

// Provider implements identity.Provider on local storage
type Provider struct {
	stores Stores
	tokens *auth.TokenManager
	totp   *auth.TOTPManager
	timing *auth.TimingDelay
	email  services.EmailService
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

var _ identity.Provider = (*Provider)(nil)

// NewProvider creates a local provider
func NewProvider(stores Stores, tokens *auth.TokenManager, totp *auth.TOTPManager, timing *auth.TimingDelay, email services.EmailService, cfg Config, logger *slog.Logger) *Provider {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = pkgauth.BcryptCost
	}
	if cfg.ChallengeExpiry <= 0 {
		cfg.ChallengeExpiry = 5 * time.Minute
	}
	if cfg.RecoveryCodeExpiry <= 0 {
		cfg.RecoveryCodeExpiry = time.Hour
	}
	return &Provider{
		stores: stores,
		tokens: tokens,
		totp:   totp,
		timing: timing,
		email:  email,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the provider clock. Tokens keep their own clock.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// comparable bcrypt work for unknown accounts
func (p *Provider) dummyPasswordHash() string {
	p.dummyOnce.Do(func() {
		hash, err := pkgauth.HashPasswordWithCost("medpassport-dummy-password", p.cfg.BcryptCost)
		if err != nil {
			p.logger.Error("failed to build dummy password hash", slog.Any("error", err))
			return
		}
		p.dummyHash = hash
	})
	return p.dummyHash
}

// SignIn checks the password and issues an access token
func (p *Provider) SignIn(ctx context.Context, email, password string) (result *identity.SignInResult, err error) {
	start := time.Now()
	defer func() {
		p.timing.WaitFrom(ctx, start, err == nil)
	}()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, models.ErrInvalidCredentials
	}

	user, err := p.stores.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = pkgauth.ComparePassword(p.dummyPasswordHash(), password)
			p.logger.InfoContext(ctx, "sign in failed: invalid credentials")
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		p.logger.InfoContext(ctx, "sign in failed: invalid credentials", slog.String("user_id", user.ID))
		return nil, models.ErrInvalidCredentials
	}

	token, _, err := p.tokens.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "user signed in", slog.String("user_id", user.ID))
	return &identity.SignInResult{AccessToken: token}, nil
}

// SignUp registers an account. An existing email is reported, not failed.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, models.ErrBadRequest
	}
	if err := pkgauth.ValidateNewPassword(password, password, p.cfg.MinPasswordLength); err != nil {
		return nil, err
	}

	hash, err := pkgauth.HashPasswordWithCost(password, p.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := p.now()
	created, err := p.stores.Users.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      hash,
		PasswordChangedAt: &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			p.logger.InfoContext(ctx, "sign up for existing account")
			return &identity.SignUpResult{AlreadyExists: true}, nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	p.logger.InfoContext(ctx, "user registered", slog.String("user_id", created.ID))
	return &identity.SignUpResult{}, nil
}

// authenticate resolves an access token to its user. Expired, revoked or
// superseded tokens all return models.ErrSessionRevoked.
func (p *Provider) authenticate(ctx context.Context, token string) (*models.User, *models.TokenClaims, error) {
	claims, err := p.tokens.ValidateToken(token, models.TokenTypeAccess)
	if err != nil {
		return nil, nil, models.ErrSessionRevoked
	}

	revoked, err := p.stores.Revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, nil, models.ErrSessionRevoked
	}

	user, err := p.stores.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrSessionRevoked
		}
		return nil, nil, fmt.Errorf("failed to get user: %w", err)
	}

	if auth.IssuedBefore(claims, user.PasswordChangedAt) {
		p.logger.InfoContext(ctx, "token issued before password change", slog.String("user_id", user.ID))
		return nil, nil, models.ErrSessionRevoked
	}

	return user, claims, nil
}

// SignOut revokes the token. Tokens that no longer validate are already
// unusable, so they are accepted silently.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.tokens.ValidateToken(token, models.TokenTypeAccess)
	if err != nil {
		return nil
	}

	err = p.stores.Revocations.RevokeToken(ctx, &models.RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.UserID,
		TokenType: claims.Type,
		Reason:    "sign_out",
		ExpiresAt: claims.ExpiresAt.Time,
		RevokedAt: p.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	p.logger.InfoContext(ctx, "user signed out", slog.String("user_id", claims.UserID))
	return nil
}

func toFactor(f *models.Factor) identity.Factor {
	return identity.Factor{
		ID:     f.ID,
		Type:   f.Type,
		Status: f.Status(),
		Name:   f.Name,
	}
}

func (p *Provider) ListFactors(ctx context.Context, token string) ([]identity.Factor, error) {
	user, _, err := p.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	stored, err := p.stores.Factors.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list factors: %w", err)
	}

	factors := make([]identity.Factor, 0, len(stored))
	for _, f := range stored {
		factors = append(factors, toFactor(f))
	}
	return factors, nil
}

// EnrollFactor adds an unverified TOTP factor and returns its provisioning data
func (p *Provider) EnrollFactor(ctx context.Context, token, factorType, name string) (*identity.Enrollment, error) {
	if factorType != models.FactorTypeTOTP {
		return nil, fmt.Errorf("%w: unsupported factor type %q", models.ErrBadRequest, factorType)
	}

	user, _, err := p.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	enrollment, err := p.totp.NewEnrollment(user.Email)
	if err != nil {
		return nil, err
	}

	created, err := p.stores.Factors.Create(ctx, &models.Factor{
		UserID:              user.ID,
		Name:                strings.TrimSpace(name),
		Type:                models.FactorTypeTOTP,
		TOTPSecretEncrypted: enrollment.EncryptedSecret,
		TOTPSecretNonce:     enrollment.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store factor: %w", err)
	}

	p.logger.InfoContext(ctx, "mfa factor enrolled",
		slog.String("user_id", user.ID),
		slog.String("factor_id", created.ID))

	return &identity.Enrollment{
		FactorID: created.ID,
		QRImage:  enrollment.QRDataURL,
		Secret:   enrollment.Secret,
	}, nil
}

// ownedFactor loads a factor and checks it belongs to user
func (p *Provider) ownedFactor(ctx context.Context, user *models.User, factorID string) (*models.Factor, error) {
	f, err := p.stores.Factors.GetByID(ctx, factorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get factor: %w", err)
	}
	if f.UserID != user.ID {
		return nil, models.ErrNotFound
	}
	return f, nil
}

func (p *Provider) ChallengeFactor(ctx context.Context, token, factorID string) (*identity.Challenge, error) {
	user, _, err := p.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := p.ownedFactor(ctx, user, factorID); err != nil {
		return nil, err
	}

	now := p.now()
	challenge := &models.Challenge{
		FactorID:  factorID,
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.ChallengeExpiry),
	}
	if err := p.stores.Challenges.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	return &identity.Challenge{ID: challenge.ID}, nil
}

// VerifyFactor spends the challenge, then checks the code. A wrong code
// still spends the challenge. The first successful verification marks an
// enrolled factor verified.
func (p *Provider) VerifyFactor(ctx context.Context, token, factorID, challengeID, code string) error {
	user, _, err := p.authenticate(ctx, token)
	if err != nil {
		return err
	}
	factor, err := p.ownedFactor(ctx, user, factorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFACodeRejected
		}
		return err
	}

	now := p.now()
	if err := p.stores.Challenges.Consume(ctx, challengeID, factorID, now); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			p.logger.InfoContext(ctx, "mfa challenge unknown, expired or spent", slog.String("user_id", user.ID))
			return models.ErrMFACodeRejected
		}
		return fmt.Errorf("failed to consume challenge: %w", err)
	}

	secret, err := p.totp.DecryptSecret(factor.TOTPSecretEncrypted, factor.TOTPSecretNonce)
	if err != nil {
		return fmt.Errorf("failed to decrypt factor secret: %w", err)
	}

	step, err := p.totp.ValidateTOTP(secret, strings.TrimSpace(code), factor.LastUsedAt, now)
	if err != nil {
		if errors.Is(err, auth.ErrCodeInvalid) || errors.Is(err, auth.ErrCodeReplayed) {
			p.logger.InfoContext(ctx, "mfa code rejected",
				slog.String("user_id", user.ID),
				slog.Bool("replay", errors.Is(err, auth.ErrCodeReplayed)))
			return models.ErrMFACodeRejected
		}
		return err
	}

	if err := p.stores.Factors.RecordUse(ctx, factorID, step, now); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.ErrMFACodeRejected
		}
		return fmt.Errorf("failed to record factor use: %w", err)
	}

	p.logger.InfoContext(ctx, "mfa factor verified",
		slog.String("user_id", user.ID),
		slog.String("factor_id", factorID))
	return nil
}

func (p *Provider) UnenrollFactor(ctx context.Context, token, factorID string) error {
	user, _, err := p.authenticate(ctx, token)
	if err != nil {
		return err
	}

	if err := p.stores.Factors.Delete(ctx, factorID, user.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to delete factor: %w", err)
	}

	p.logger.InfoContext(ctx, "mfa factor removed",
		slog.String("user_id", user.ID),
		slog.String("factor_id", factorID))
	return nil
}

// RequestPasswordReset mails a one-time recovery link. Unknown accounts
// return models.ErrNotFound; callers decide whether to reveal that.
func (p *Provider) RequestPasswordReset(ctx context.Context, email, redirectTarget string) error {
	email = normalizeEmail(email)
	user, err := p.stores.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to get user by email: %w", err)
	}

	link, err := url.Parse(redirectTarget)
	if err != nil || redirectTarget == "" {
		return fmt.Errorf("%w: invalid redirect target", models.ErrBadRequest)
	}

	code, err := auth.GenerateRecoveryCode()
	if err != nil {
		return err
	}

	expiresAt := p.now().Add(p.cfg.RecoveryCodeExpiry)
	err = p.stores.Recovery.Create(ctx, &models.RecoveryCode{
		UserID:    user.ID,
		CodeHash:  auth.HashRecoveryCode(code),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store recovery code: %w", err)
	}

	q := link.Query()
	q.Set("type", models.RecoverySignalKind)
	q.Set("code", code)
	link.RawQuery = q.Encode()

	if err := p.email.SendPasswordResetEmail(ctx, user.Email, link.String(), expiresAt); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "password reset link issued",
		slog.String("user_id", user.ID),
		slog.String("email", pkglogger.SanitizedEmail(user.Email)))
	return nil
}

// ExchangeRecoveryCode spends the code and grants a recovery token
func (p *Provider) ExchangeRecoveryCode(ctx context.Context, code string) (*identity.ExchangeResult, error) {
	rc, err := p.stores.Recovery.Consume(ctx, auth.HashRecoveryCode(strings.TrimSpace(code)), p.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrRecoveryCodeInvalid
		}
		return nil, fmt.Errorf("failed to consume recovery code: %w", err)
	}

	user, err := p.stores.Users.GetByID(ctx, rc.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrRecoveryCodeInvalid
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	token, _, err := p.tokens.GenerateRecoveryToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &identity.ExchangeResult{TempToken: token}, nil
}

// UpdatePassword sets a new password with a recovery token. The token is
// revoked afterwards and earlier access tokens stop validating.
func (p *Provider) UpdatePassword(ctx context.Context, tempToken, newPassword string) error {
	claims, err := p.tokens.ValidateToken(tempToken, models.TokenTypeRecovery)
	if err != nil {
		return models.ErrRecoveryCodeInvalid
	}

	revoked, err := p.stores.Revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return models.ErrRecoveryCodeInvalid
	}

	if err := pkgauth.ValidateNewPassword(newPassword, newPassword, p.cfg.MinPasswordLength); err != nil {
		return err
	}

	hash, err := pkgauth.HashPasswordWithCost(newPassword, p.cfg.BcryptCost)
	if err != nil {
		return err
	}

	now := p.now()
	if err := p.stores.Users.UpdatePassword(ctx, claims.UserID, hash, now); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrRecoveryCodeInvalid
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	err = p.stores.Revocations.RevokeToken(ctx, &models.RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.UserID,
		TokenType: claims.Type,
		Reason:    "password_reset",
		ExpiresAt: claims.ExpiresAt.Time,
		RevokedAt: now,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to revoke recovery token", slog.Any("error", err))
	}

	p.logger.InfoContext(ctx, "password updated via recovery", slog.String("user_id", claims.UserID))
	return nil
}
