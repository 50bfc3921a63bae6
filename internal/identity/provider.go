// Package identity defines the identity provider surface the session core
// consumes. Implementations map every failure onto the sentinel errors in
// internal/models so callers never inspect provider-specific shapes.
package identity

import (
	"context"

	"github.com/BradenHooton/medpassport/internal/models"
)

// SignInResult is returned by a successful SignIn
type SignInResult struct {
	AccessToken string
}

// SignUpResult reports whether the account was already registered
type SignUpResult struct {
	AlreadyExists bool
}

// Factor is the provider view of an enrolled MFA factor
type Factor struct {
	ID     string `json:"id"`
	Type   string `json:"factor_type"`
	Status string `json:"status"`
	Name   string `json:"name"`
}

// Verified reports whether the factor completed its first challenge
func (f Factor) Verified() bool {
	return f.Status == models.FactorStatusVerified
}

// Enrollment carries the data a user needs to add a TOTP factor to an authenticator app
type Enrollment struct {
	FactorID string `json:"factor_id"`
	QRImage  string `json:"qr_code"` // PNG data URL
	Secret   string `json:"secret"`
}

// Challenge identifies a pending MFA challenge
type Challenge struct {
	ID string
}

// ExchangeResult holds the temporary session granted by a recovery code
type ExchangeResult struct {
	TempToken string
}

// Provider is the identity provider adapter.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*SignInResult, error)
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignOut(ctx context.Context, token string) error
	ListFactors(ctx context.Context, token string) ([]Factor, error)
	EnrollFactor(ctx context.Context, token, factorType, name string) (*Enrollment, error)
	ChallengeFactor(ctx context.Context, token, factorID string) (*Challenge, error)
	VerifyFactor(ctx context.Context, token, factorID, challengeID, code string) error
	UnenrollFactor(ctx context.Context, token, factorID string) error
	RequestPasswordReset(ctx context.Context, email, redirectTarget string) error
	ExchangeRecoveryCode(ctx context.Context, code string) (*ExchangeResult, error)
	UpdatePassword(ctx context.Context, tempToken, newPassword string) error
}

// FirstVerifiedTOTP returns the first verified TOTP factor, if any
func FirstVerifiedTOTP(factors []Factor) (Factor, bool) {
	for _, f := range factors {
		if f.Type == models.FactorTypeTOTP && f.Verified() {
			return f, true
		}
	}
	return Factor{}, false
}
