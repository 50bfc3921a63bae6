// Package memory holds in-process repositories. They back the identity
// provider and the session store in development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/google/uuid"
)

// UserRepository stores users keyed by id with an email index
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
	codes   *RecoveryCodeRepository
}

// NewUserRepository creates a user store. When codes is set, a password
// update also spends the user's outstanding recovery codes.
func NewUserRepository(codes *RecoveryCodeRepository) *UserRepository {
	return &UserRepository{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
		codes:   codes,
	}
}

func (r *UserRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return nil, models.ErrConflict
	}

	u := *user
	u.ID = uuid.New().String()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	r.byID[u.ID] = &u
	r.byEmail[u.Email] = u.ID

	out := u
	return &out, nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	u, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return models.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &changedAt
	u.UpdatedAt = changedAt
	r.mu.Unlock()

	if r.codes != nil {
		r.codes.consumeAllForUser(id, changedAt)
	}
	return nil
}

// FactorRepository stores MFA factors
type FactorRepository struct {
	mu      sync.RWMutex
	factors map[string]*models.Factor
}

func NewFactorRepository() *FactorRepository {
	return &FactorRepository{factors: make(map[string]*models.Factor)}
}

func (r *FactorRepository) Create(_ context.Context, f *models.Factor) (*models.Factor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *f
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()
	r.factors[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (r *FactorRepository) GetByID(_ context.Context, id string) (*models.Factor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factors[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *f
	return &out, nil
}

func (r *FactorRepository) ListByUser(_ context.Context, userID string) ([]*models.Factor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factors := make([]*models.Factor, 0)
	for _, f := range r.factors {
		if f.UserID == userID {
			out := *f
			factors = append(factors, &out)
		}
	}
	sort.Slice(factors, func(i, j int) bool {
		return factors[i].CreatedAt.Before(factors[j].CreatedAt)
	})
	return factors, nil
}

func (r *FactorRepository) RecordUse(_ context.Context, id string, step, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factors[id]
	if !ok {
		return models.ErrNotFound
	}
	if f.LastUsedAt != nil && !f.LastUsedAt.Before(step) {
		return models.ErrConflict
	}
	f.LastUsedAt = &step
	if f.VerifiedAt == nil {
		f.VerifiedAt = &at
	}
	return nil
}

func (r *FactorRepository) Delete(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factors[id]
	if !ok || f.UserID != userID {
		return models.ErrNotFound
	}
	delete(r.factors, id)
	return nil
}

// ChallengeRepository stores single-use MFA challenges
type ChallengeRepository struct {
	mu         sync.Mutex
	challenges map[string]*models.Challenge
}

func NewChallengeRepository() *ChallengeRepository {
	return &ChallengeRepository{challenges: make(map[string]*models.Challenge)}
}

func (r *ChallengeRepository) Create(_ context.Context, c *models.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.ID = uuid.New().String()
	stored := *c
	r.challenges[c.ID] = &stored
	return nil
}

func (r *ChallengeRepository) Consume(_ context.Context, id, factorID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.challenges[id]
	if !ok || c.FactorID != factorID || c.ConsumedAt != nil || !c.ExpiresAt.After(at) {
		return models.ErrNotFound
	}
	c.ConsumedAt = &at
	return nil
}

func (r *ChallengeRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, c := range r.challenges {
		if c.ExpiresAt.Before(before) {
			delete(r.challenges, id)
			n++
		}
	}
	return n, nil
}

// RecoveryCodeRepository stores hashed recovery codes
type RecoveryCodeRepository struct {
	mu    sync.Mutex
	codes map[string]*models.RecoveryCode // keyed by hash
}

func NewRecoveryCodeRepository() *RecoveryCodeRepository {
	return &RecoveryCodeRepository{codes: make(map[string]*models.RecoveryCode)}
}

func (r *RecoveryCodeRepository) Create(_ context.Context, rc *models.RecoveryCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.codes[rc.CodeHash]; exists {
		return models.ErrConflict
	}
	rc.ID = uuid.New().String()
	stored := *rc
	r.codes[rc.CodeHash] = &stored
	return nil
}

func (r *RecoveryCodeRepository) Consume(_ context.Context, codeHash string, at time.Time) (*models.RecoveryCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rc, ok := r.codes[codeHash]
	if !ok || rc.ConsumedAt != nil || !rc.ExpiresAt.After(at) {
		return nil, models.ErrNotFound
	}
	rc.ConsumedAt = &at
	out := *rc
	return &out, nil
}

func (r *RecoveryCodeRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, rc := range r.codes {
		if rc.ExpiresAt.Before(before) {
			delete(r.codes, hash)
			n++
		}
	}
	return n, nil
}

func (r *RecoveryCodeRepository) consumeAllForUser(userID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rc := range r.codes {
		if rc.UserID == userID && rc.ConsumedAt == nil {
			t := at
			rc.ConsumedAt = &t
		}
	}
}

// TokenRevocationRepository stores revoked token ids
type TokenRevocationRepository struct {
	mu      sync.RWMutex
	revoked map[string]models.RevokedToken
}

func NewTokenRevocationRepository() *TokenRevocationRepository {
	return &TokenRevocationRepository{revoked: make(map[string]models.RevokedToken)}
}

func (r *TokenRevocationRepository) RevokeToken(_ context.Context, token *models.RevokedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.revoked[token.JTI]; !exists {
		r.revoked[token.JTI] = *token
	}
	return nil
}

func (r *TokenRevocationRepository) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, revoked := r.revoked[jti]
	return revoked, nil
}

func (r *TokenRevocationRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for jti, t := range r.revoked {
		if t.ExpiresAt.Before(before) {
			delete(r.revoked, jti)
			n++
		}
	}
	return n, nil
}
