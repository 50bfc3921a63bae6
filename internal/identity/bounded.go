package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
)

// DefaultTimeout bounds every provider round trip when none is configured
const DefaultTimeout = 5 * time.Second

// Bounded wraps a Provider so that no call outlives its timeout. A deadline or
// cancellation is reported as models.ErrProviderUnavailable; errors that are
// not one of the known sentinels are wrapped the same way so unexpected
// failures never read as success or as a credential problem.
type Bounded struct {
	next    Provider
	timeout time.Duration
}

var _ Provider = (*Bounded)(nil)

// NewBounded creates a timeout-enforcing provider decorator
func NewBounded(next Provider, timeout time.Duration) *Bounded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bounded{next: next, timeout: timeout}
}

var knownErrors = []error{
	models.ErrInvalidCredentials,
	models.ErrMFACodeRejected,
	models.ErrProviderUnavailable,
	models.ErrRecoveryCodeInvalid,
	models.ErrPasswordPolicy,
	models.ErrAccountExists,
	models.ErrSessionRevoked,
	models.ErrNotFound,
	models.ErrBadRequest,
}

func (b *Bounded) mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrProviderUnavailable, err)
}

func call[T any](ctx context.Context, b *Bounded, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case res := <-done:
		return res.val, b.mapErr(op, res.err)
	case <-ctx.Done():
		var zero T
		return zero, b.mapErr(op, ctx.Err())
	}
}

func (b *Bounded) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	return call(ctx, b, "sign in", func(ctx context.Context) (*SignInResult, error) {
		return b.next.SignIn(ctx, email, password)
	})
}

func (b *Bounded) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	return call(ctx, b, "sign up", func(ctx context.Context) (*SignUpResult, error) {
		return b.next.SignUp(ctx, email, password)
	})
}

func (b *Bounded) SignOut(ctx context.Context, token string) error {
	_, err := call(ctx, b, "sign out", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.next.SignOut(ctx, token)
	})
	return err
}

func (b *Bounded) ListFactors(ctx context.Context, token string) ([]Factor, error) {
	return call(ctx, b, "list factors", func(ctx context.Context) ([]Factor, error) {
		return b.next.ListFactors(ctx, token)
	})
}

func (b *Bounded) EnrollFactor(ctx context.Context, token, factorType, name string) (*Enrollment, error) {
	return call(ctx, b, "enroll factor", func(ctx context.Context) (*Enrollment, error) {
		return b.next.EnrollFactor(ctx, token, factorType, name)
	})
}

func (b *Bounded) ChallengeFactor(ctx context.Context, token, factorID string) (*Challenge, error) {
	return call(ctx, b, "challenge factor", func(ctx context.Context) (*Challenge, error) {
		return b.next.ChallengeFactor(ctx, token, factorID)
	})
}

func (b *Bounded) VerifyFactor(ctx context.Context, token, factorID, challengeID, code string) error {
	_, err := call(ctx, b, "verify factor", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.next.VerifyFactor(ctx, token, factorID, challengeID, code)
	})
	return err
}

func (b *Bounded) UnenrollFactor(ctx context.Context, token, factorID string) error {
	_, err := call(ctx, b, "unenroll factor", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.next.UnenrollFactor(ctx, token, factorID)
	})
	return err
}

func (b *Bounded) RequestPasswordReset(ctx context.Context, email, redirectTarget string) error {
	_, err := call(ctx, b, "request password reset", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.next.RequestPasswordReset(ctx, email, redirectTarget)
	})
	return err
}

func (b *Bounded) ExchangeRecoveryCode(ctx context.Context, code string) (*ExchangeResult, error) {
	return call(ctx, b, "exchange recovery code", func(ctx context.Context) (*ExchangeResult, error) {
		return b.next.ExchangeRecoveryCode(ctx, code)
	})
}

func (b *Bounded) UpdatePassword(ctx context.Context, tempToken, newPassword string) error {
	_, err := call(ctx, b, "update password", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.next.UpdatePassword(ctx, tempToken, newPassword)
	})
	return err
}
