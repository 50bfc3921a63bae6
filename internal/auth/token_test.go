package auth

import (
	"testing"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager(now *time.Time) *TokenManager {
	return NewTokenManager("test-secret-at-least-32-bytes-long!!", "medpassport", 15*time.Minute, 10*time.Minute).
		WithClock(func() time.Time { return *now })
}

func TestTokenManager_AccessTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tm := newTestTokenManager(&now)

	token, issued, err := tm.GenerateAccessToken("user-1", "dr@hospital.org")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)

	claims, err := tm.ValidateToken(token, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "dr@hospital.org", claims.Email)
	assert.Equal(t, issued.ID, claims.ID)
}

func TestTokenManager_RejectsWrongType(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tm := newTestTokenManager(&now)

	token, _, err := tm.GenerateRecoveryToken("user-1", "dr@hospital.org")
	require.NoError(t, err)

	_, err = tm.ValidateToken(token, models.TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tm.ValidateToken(token, models.TokenTypeRecovery)
	assert.NoError(t, err)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tm := newTestTokenManager(&now)

	token, _, err := tm.GenerateAccessToken("user-1", "dr@hospital.org")
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = tm.ValidateToken(token, models.TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsForeignSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	other := NewTokenManager("another-secret-at-least-32-bytes!!", "medpassport", time.Minute, time.Minute).
		WithClock(func() time.Time { return now })

	token, _, err := other.GenerateAccessToken("user-1", "dr@hospital.org")
	require.NoError(t, err)

	_, err = newTestTokenManager(&now).ValidateToken(token, models.TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = newTestTokenManager(&now).ValidateToken("not-a-jwt", models.TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuedBefore(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tm := newTestTokenManager(&now)
	_, claims, err := tm.GenerateAccessToken("user-1", "dr@hospital.org")
	require.NoError(t, err)

	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	assert.True(t, IssuedBefore(claims, &later))
	assert.False(t, IssuedBefore(claims, &earlier))
	assert.False(t, IssuedBefore(claims, nil))
}
