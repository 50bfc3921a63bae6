package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or type checks.
var ErrInvalidToken = errors.New("invalid token")

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret         []byte
	issuer         string
	accessExpiry   time.Duration
	recoveryExpiry time.Duration
	now            func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string, accessExpiry, recoveryExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:         []byte(secret),
		issuer:         issuer,
		accessExpiry:   accessExpiry,
		recoveryExpiry: recoveryExpiry,
		now:            time.Now,
	}
}

// WithClock replaces the clock used for issuing and validating tokens
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

// GenerateAccessToken creates an access token with a unique JTI
func (tm *TokenManager) GenerateAccessToken(userID, email string) (string, *models.TokenClaims, error) {
	return tm.generate(models.TokenTypeAccess, userID, email, tm.accessExpiry)
}

// GenerateRecoveryToken creates the short-lived token a recovery code is
// exchanged for. It only authorizes a password update.
func (tm *TokenManager) GenerateRecoveryToken(userID, email string) (string, *models.TokenClaims, error) {
	return tm.generate(models.TokenTypeRecovery, userID, email, tm.recoveryExpiry)
}

func (tm *TokenManager) generate(tokenType, userID, email string, expiry time.Duration) (string, *models.TokenClaims, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return signed, claims, nil
}

// ValidateToken verifies a token of the expected type and returns its claims
func (tm *TokenManager) ValidateToken(tokenString, expectedType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid || claims.Type != expectedType || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// IssuedBefore reports whether the token predates t, used to reject tokens
// issued before a password change.
func IssuedBefore(claims *models.TokenClaims, t *time.Time) bool {
	if t == nil || claims.IssuedAt == nil {
		return false
	}
	return claims.IssuedAt.Time.Before(t.Truncate(time.Second))
}
