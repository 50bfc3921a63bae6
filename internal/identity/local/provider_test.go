package local

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/BradenHooton/medpassport/internal/auth"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/BradenHooton/medpassport/internal/repositories/memory"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type capturedEmail struct {
	email     string
	link      string
	expiresAt time.Time
}

type mockEmailService struct {
	sent []capturedEmail
}

func (m *mockEmailService) SendPasswordResetEmail(ctx context.Context, email, link string, expiresAt time.Time) error {
	m.sent = append(m.sent, capturedEmail{email: email, link: link, expiresAt: expiresAt})
	return nil
}

type fixture struct {
	provider *Provider
	mail     *mockEmailService
	factors  *memory.FactorRepository
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	totpManager, err := auth.NewTOTPManager(key, "Medical Passport")
	require.NoError(t, err)

	codes := memory.NewRecoveryCodeRepository()
	f := &fixture{
		mail:    &mockEmailService{},
		factors: memory.NewFactorRepository(),
		now:     time.Now().UTC().Truncate(time.Second),
	}

	stores := Stores{
		Users:       memory.NewUserRepository(codes),
		Factors:     f.factors,
		Challenges:  memory.NewChallengeRepository(),
		Recovery:    codes,
		Revocations: memory.NewTokenRevocationRepository(),
	}
	tokens := auth.NewTokenManager("test-secret-that-is-long-enough-for-hs256", "medpassport", time.Hour, 5*time.Minute)

	f.provider = NewProvider(stores, tokens, totpManager, nil, f.mail, Config{
		ChallengeExpiry:    5 * time.Minute,
		RecoveryCodeExpiry: time.Hour,
		MinPasswordLength:  6,
		BcryptCost:         bcrypt.MinCost,
	}, slog.New(slog.NewTextHandler(io.Discard, nil))).WithClock(func() time.Time { return f.now })

	return f
}

func (f *fixture) signedIn(t *testing.T, email, password string) string {
	t.Helper()
	ctx := context.Background()

	_, err := f.provider.SignUp(ctx, email, password)
	require.NoError(t, err)
	res, err := f.provider.SignIn(ctx, email, password)
	require.NoError(t, err)
	return res.AccessToken
}

func TestProvider_SignUpAndSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.provider.SignUp(ctx, " Dr.Grey@Hospital.org ", "secret1")
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)

	again, err := f.provider.SignUp(ctx, "dr.grey@hospital.org", "another1")
	require.NoError(t, err)
	assert.True(t, again.AlreadyExists)

	signIn, err := f.provider.SignIn(ctx, "dr.grey@hospital.org", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, signIn.AccessToken)
}

func TestProvider_SignIn_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signedIn(t, "dr@hospital.org", "secret1")

	_, err := f.provider.SignIn(ctx, "dr@hospital.org", "wrong-pw")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = f.provider.SignIn(ctx, "nobody@hospital.org", "secret1")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = f.provider.SignIn(ctx, "", "")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestProvider_SignUp_PasswordPolicy(t *testing.T) {
	f := newFixture(t)

	_, err := f.provider.SignUp(context.Background(), "dr@hospital.org", "short")
	assert.ErrorIs(t, err, models.ErrPasswordPolicy)
}

func TestProvider_SignOutRevokesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.signedIn(t, "dr@hospital.org", "secret1")

	_, err := f.provider.ListFactors(ctx, token)
	require.NoError(t, err)

	require.NoError(t, f.provider.SignOut(ctx, token))

	_, err = f.provider.ListFactors(ctx, token)
	assert.ErrorIs(t, err, models.ErrSessionRevoked)

	assert.NoError(t, f.provider.SignOut(ctx, "not-a-token"))
}

func TestProvider_EnrollChallengeVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.signedIn(t, "dr@hospital.org", "secret1")

	enrollment, err := f.provider.EnrollFactor(ctx, token, models.FactorTypeTOTP, "phone")
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.QRImage, "data:image/png;base64,")

	factors, err := f.provider.ListFactors(ctx, token)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.Equal(t, models.FactorStatusUnverified, factors[0].Status)
	assert.Equal(t, models.FactorTypeTOTP, factors[0].Type)

	challenge, err := f.provider.ChallengeFactor(ctx, token, enrollment.FactorID)
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)
	require.NoError(t, f.provider.VerifyFactor(ctx, token, enrollment.FactorID, challenge.ID, code))

	factors, err = f.provider.ListFactors(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.FactorStatusVerified, factors[0].Status)

	// same challenge again
	err = f.provider.VerifyFactor(ctx, token, enrollment.FactorID, challenge.ID, code)
	assert.ErrorIs(t, err, models.ErrMFACodeRejected)

	// fresh challenge, same code in the same time step
	second, err := f.provider.ChallengeFactor(ctx, token, enrollment.FactorID)
	require.NoError(t, err)
	err = f.provider.VerifyFactor(ctx, token, enrollment.FactorID, second.ID, code)
	assert.ErrorIs(t, err, models.ErrMFACodeRejected)

	// next time step is accepted
	f.now = f.now.Add(30 * time.Second)
	third, err := f.provider.ChallengeFactor(ctx, token, enrollment.FactorID)
	require.NoError(t, err)
	next, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)
	assert.NoError(t, f.provider.VerifyFactor(ctx, token, enrollment.FactorID, third.ID, next))
}

func TestProvider_VerifyFactor_WrongCodeSpendsChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.signedIn(t, "dr@hospital.org", "secret1")

	enrollment, err := f.provider.EnrollFactor(ctx, token, models.FactorTypeTOTP, "phone")
	require.NoError(t, err)
	challenge, err := f.provider.ChallengeFactor(ctx, token, enrollment.FactorID)
	require.NoError(t, err)

	err = f.provider.VerifyFactor(ctx, token, enrollment.FactorID, challenge.ID, "000000x")
	assert.ErrorIs(t, err, models.ErrMFACodeRejected)

	code, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)
	err = f.provider.VerifyFactor(ctx, token, enrollment.FactorID, challenge.ID, code)
	assert.ErrorIs(t, err, models.ErrMFACodeRejected)
}

func TestProvider_VerifyFactor_ExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.signedIn(t, "dr@hospital.org", "secret1")

	enrollment, err := f.provider.EnrollFactor(ctx, token, models.FactorTypeTOTP, "phone")
	require.NoError(t, err)
	challenge, err := f.provider.ChallengeFactor(ctx, token, enrollment.FactorID)
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Minute)
	code, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)

	err = f.provider.VerifyFactor(ctx, token, enrollment.FactorID, challenge.ID, code)
	assert.ErrorIs(t, err, models.ErrMFACodeRejected)
}

func TestProvider_FactorsAreScopedToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.signedIn(t, "owner@hospital.org", "secret1")
	other := f.signedIn(t, "other@hospital.org", "secret1")

	enrollment, err := f.provider.EnrollFactor(ctx, owner, models.FactorTypeTOTP, "phone")
	require.NoError(t, err)

	_, err = f.provider.ChallengeFactor(ctx, other, enrollment.FactorID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = f.provider.UnenrollFactor(ctx, other, enrollment.FactorID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, f.provider.UnenrollFactor(ctx, owner, enrollment.FactorID))
	factors, err := f.provider.ListFactors(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, factors)
}

func TestProvider_EnrollFactor_UnsupportedType(t *testing.T) {
	f := newFixture(t)
	token := f.signedIn(t, "dr@hospital.org", "secret1")

	_, err := f.provider.EnrollFactor(context.Background(), token, "sms", "phone")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestProvider_PasswordResetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldToken := f.signedIn(t, "dr@hospital.org", "secret1")

	err := f.provider.RequestPasswordReset(ctx, "dr@hospital.org", "https://portal.example/reset")
	require.NoError(t, err)
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, f.now.Add(time.Hour), f.mail.sent[0].expiresAt)

	link, err := url.Parse(f.mail.sent[0].link)
	require.NoError(t, err)
	assert.Equal(t, "portal.example", link.Host)
	assert.Equal(t, models.RecoverySignalKind, link.Query().Get("type"))
	code := link.Query().Get("code")
	require.NotEmpty(t, code)

	exchanged, err := f.provider.ExchangeRecoveryCode(ctx, code)
	require.NoError(t, err)

	_, err = f.provider.ExchangeRecoveryCode(ctx, code)
	assert.ErrorIs(t, err, models.ErrRecoveryCodeInvalid)

	// tokens issued before the change must stop validating
	f.now = time.Now().Add(2 * time.Second)
	require.NoError(t, f.provider.UpdatePassword(ctx, exchanged.TempToken, "newsecret"))

	err = f.provider.UpdatePassword(ctx, exchanged.TempToken, "another1")
	assert.ErrorIs(t, err, models.ErrRecoveryCodeInvalid)

	_, err = f.provider.ListFactors(ctx, oldToken)
	assert.ErrorIs(t, err, models.ErrSessionRevoked)

	_, err = f.provider.SignIn(ctx, "dr@hospital.org", "secret1")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestProvider_RequestPasswordReset_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	err := f.provider.RequestPasswordReset(context.Background(), "nobody@hospital.org", "https://portal.example/reset")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.mail.sent)
}

func TestProvider_PasswordChangeSpendsOutstandingCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signedIn(t, "dr@hospital.org", "secret1")

	require.NoError(t, f.provider.RequestPasswordReset(ctx, "dr@hospital.org", "https://portal.example/reset"))
	require.NoError(t, f.provider.RequestPasswordReset(ctx, "dr@hospital.org", "https://portal.example/reset"))
	require.Len(t, f.mail.sent, 2)

	codeOf := func(i int) string {
		link, err := url.Parse(f.mail.sent[i].link)
		require.NoError(t, err)
		return link.Query().Get("code")
	}

	exchanged, err := f.provider.ExchangeRecoveryCode(ctx, codeOf(0))
	require.NoError(t, err)
	require.NoError(t, f.provider.UpdatePassword(ctx, exchanged.TempToken, "newsecret"))

	_, err = f.provider.ExchangeRecoveryCode(ctx, codeOf(1))
	assert.ErrorIs(t, err, models.ErrRecoveryCodeInvalid)
}

func TestProvider_UpdatePassword_RejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	token := f.signedIn(t, "dr@hospital.org", "secret1")

	err := f.provider.UpdatePassword(context.Background(), token, "newsecret")
	assert.ErrorIs(t, err, models.ErrRecoveryCodeInvalid)
}
