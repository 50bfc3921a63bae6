package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestUserRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(nil)

	created, err := repo.Create(ctx, &models.User{Email: "dr@hospital.org", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	byEmail, err := repo.GetByEmail(ctx, "dr@hospital.org")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = repo.Create(ctx, &models.User{Email: "dr@hospital.org", PasswordHash: "other"})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.GetByEmail(ctx, "ghost@hospital.org")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUserRepository_UpdatePasswordSpendsRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	codes := NewRecoveryCodeRepository()
	users := NewUserRepository(codes)

	user, err := users.Create(ctx, &models.User{Email: "dr@hospital.org", PasswordHash: "old"})
	require.NoError(t, err)
	require.NoError(t, codes.Create(ctx, &models.RecoveryCode{UserID: user.ID, CodeHash: "h1", ExpiresAt: now.Add(time.Hour)}))

	require.NoError(t, users.UpdatePassword(ctx, user.ID, "new", now))

	updated, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.PasswordHash)
	require.NotNil(t, updated.PasswordChangedAt)

	_, err = codes.Consume(ctx, "h1", now)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, users.UpdatePassword(ctx, "missing", "x", now), models.ErrNotFound)
}

func TestFactorRepository_RecordUseRejectsUsedStep(t *testing.T) {
	ctx := context.Background()
	repo := NewFactorRepository()

	f, err := repo.Create(ctx, &models.Factor{UserID: "u1", Type: models.FactorTypeTOTP})
	require.NoError(t, err)
	assert.False(t, f.IsVerified())

	require.NoError(t, repo.RecordUse(ctx, f.ID, now, now.Add(5*time.Second)))
	assert.ErrorIs(t, repo.RecordUse(ctx, f.ID, now, now.Add(10*time.Second)), models.ErrConflict)
	assert.ErrorIs(t, repo.RecordUse(ctx, f.ID, now.Add(-30*time.Second), now.Add(10*time.Second)), models.ErrConflict)
	assert.NoError(t, repo.RecordUse(ctx, f.ID, now.Add(30*time.Second), now.Add(31*time.Second)))

	stored, err := repo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified())
	assert.Equal(t, now.Add(5*time.Second), *stored.VerifiedAt)
	assert.Equal(t, now.Add(30*time.Second), *stored.LastUsedAt)
}

func TestFactorRepository_DeleteChecksOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewFactorRepository()
	f, err := repo.Create(ctx, &models.Factor{UserID: "u1"})
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Delete(ctx, f.ID, "u2"), models.ErrNotFound)
	require.NoError(t, repo.Delete(ctx, f.ID, "u1"))

	list, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChallengeRepository_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository()
	c := &models.Challenge{FactorID: "f1", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, repo.Create(ctx, c))

	assert.ErrorIs(t, repo.Consume(ctx, c.ID, "other", now), models.ErrNotFound)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.Consume(ctx, c.ID, "f1", now) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestChallengeRepository_ExpiredAndCleanup(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository()
	c := &models.Challenge{FactorID: "f1", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, repo.Create(ctx, c))

	assert.ErrorIs(t, repo.Consume(ctx, c.ID, "f1", now.Add(time.Minute)), models.ErrNotFound)

	n, err := repo.DeleteExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecoveryCodeRepository_Consume(t *testing.T) {
	ctx := context.Background()
	repo := NewRecoveryCodeRepository()
	require.NoError(t, repo.Create(ctx, &models.RecoveryCode{UserID: "u1", CodeHash: "h1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, repo.Create(ctx, &models.RecoveryCode{UserID: "u1", CodeHash: "h2", ExpiresAt: now.Add(-time.Second)}))

	rc, err := repo.Consume(ctx, "h1", now)
	require.NoError(t, err)
	assert.Equal(t, "u1", rc.UserID)

	_, err = repo.Consume(ctx, "h1", now)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.Consume(ctx, "h2", now)
	assert.ErrorIs(t, err, models.ErrNotFound)

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTokenRevocationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewTokenRevocationRepository()

	require.NoError(t, repo.RevokeToken(ctx, &models.RevokedToken{JTI: "j1", ExpiresAt: now}))
	require.NoError(t, repo.RevokeToken(ctx, &models.RevokedToken{JTI: "j1", ExpiresAt: now}))

	revoked, err := repo.IsTokenRevoked(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, revoked)

	n, err := repo.DeleteExpired(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	revoked, err = repo.IsTokenRevoked(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestSessionContextRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionContextRepository()
	clock := now
	repo.now = func() time.Time { return clock }

	_, err := repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	authTime := now
	sc := models.SessionContext{Authenticated: true, AccessToken: "tok", AuthTime: &authTime, Version: 3}
	require.NoError(t, repo.Save(ctx, "s1", sc))

	authTime = now.Add(time.Hour)
	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, now, *got.AuthTime)
	assert.Equal(t, int64(3), got.Version)

	clock = now.Add(2 * time.Hour)
	require.NoError(t, repo.Save(ctx, "s2", models.SessionContext{}))

	n, err := repo.DeleteIdle(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.Delete(ctx, "s2"))
	_, err = repo.Get(ctx, "s2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
