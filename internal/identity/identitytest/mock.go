// Package identitytest provides a Func-field mock of identity.Provider.
package identitytest

import (
	"context"
	"sync"

	"github.com/BradenHooton/medpassport/internal/identity"
	"github.com/BradenHooton/medpassport/internal/models"
)

// MockProvider implements identity.Provider for testing. Unset funcs fail
// with ErrProviderUnavailable except SignOut, which succeeds.
type MockProvider struct {
	SignInFunc               func(ctx context.Context, email, password string) (*identity.SignInResult, error)
	SignUpFunc               func(ctx context.Context, email, password string) (*identity.SignUpResult, error)
	SignOutFunc              func(ctx context.Context, token string) error
	ListFactorsFunc          func(ctx context.Context, token string) ([]identity.Factor, error)
	EnrollFactorFunc         func(ctx context.Context, token, factorType, name string) (*identity.Enrollment, error)
	ChallengeFactorFunc      func(ctx context.Context, token, factorID string) (*identity.Challenge, error)
	VerifyFactorFunc         func(ctx context.Context, token, factorID, challengeID, code string) error
	UnenrollFactorFunc       func(ctx context.Context, token, factorID string) error
	RequestPasswordResetFunc func(ctx context.Context, email, redirectTarget string) error
	ExchangeRecoveryCodeFunc func(ctx context.Context, code string) (*identity.ExchangeResult, error)
	UpdatePasswordFunc       func(ctx context.Context, tempToken, newPassword string) error

	mu    sync.Mutex
	calls []string
}

var _ identity.Provider = (*MockProvider)(nil)

func (m *MockProvider) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

// Calls returns the provider methods invoked so far, in order
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many times the named method was invoked
func (m *MockProvider) CallCount(name string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (m *MockProvider) SignIn(ctx context.Context, email, password string) (*identity.SignInResult, error) {
	m.record("SignIn")
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return nil, models.ErrProviderUnavailable
}

func (m *MockProvider) SignUp(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
	m.record("SignUp")
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, email, password)
	}
	return nil, models.ErrProviderUnavailable
}

func (m *MockProvider) SignOut(ctx context.Context, token string) error {
	m.record("SignOut")
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, token)
	}
	return nil
}

func (m *MockProvider) ListFactors(ctx context.Context, token string) ([]identity.Factor, error) {
	m.record("ListFactors")
	if m.ListFactorsFunc != nil {
		return m.ListFactorsFunc(ctx, token)
	}
	return nil, models.ErrProviderUnavailable
}

func (m *MockProvider) EnrollFactor(ctx context.Context, token, factorType, name string) (*identity.Enrollment, error) {
	m.record("EnrollFactor")
	if m.EnrollFactorFunc != nil {
		return m.EnrollFactorFunc(ctx, token, factorType, name)
	}
	return nil, models.ErrProviderUnavailable
}

func (m *MockProvider) ChallengeFactor(ctx context.Context, token, factorID string) (*identity.Challenge, error) {
	m.record("ChallengeFactor")
	if m.ChallengeFactorFunc != nil {
		return m.ChallengeFactorFunc(ctx, token, factorID)
	}
	return nil, models.ErrProviderUnavailable
}

func (m *MockProvider) VerifyFactor(ctx context.Context, token, factorID, challengeID, code string) error {
	m.record("VerifyFactor")
	if m.VerifyFactorFunc != nil {
		return m.VerifyFactorFunc(ctx, token, factorID, challengeID, code)
	}
	return models.ErrProviderUnavailable
}

func (m *MockProvider) UnenrollFactor(ctx context.Context, token, factorID string) error {
	m.record("UnenrollFactor")
	if m.UnenrollFactorFunc != nil {
		return m.UnenrollFactorFunc(ctx, token, factorID)
	}
	return models.ErrProviderUnavailable
}

func (m *MockProvider) RequestPasswordReset(ctx context.Context, email, redirectTarget string) error {
	m.record("RequestPasswordReset")
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email, redirectTarget)
	}
	return models.ErrProviderUnavailable
}

func (m *MockProvider) ExchangeRecoveryCode(ctx context.Context, code string) (*identity.ExchangeResult, error) {
	m.record("ExchangeRecoveryCode")
	if m.ExchangeRecoveryCodeFunc != nil {
		return m.ExchangeRecoveryCodeFunc(ctx, code)
	}
	return nil, models.ErrProviderUnavailable
}

func (m *MockProvider) UpdatePassword(ctx context.Context, tempToken, newPassword string) error {
	m.record("UpdatePassword")
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, tempToken, newPassword)
	}
	return models.ErrProviderUnavailable
}
