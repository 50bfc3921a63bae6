package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/medpassport/internal/database"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChallengeRepository persists single-use MFA challenges
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

func NewChallengeRepository(db *database.DB) *ChallengeRepository {
	return &ChallengeRepository{pool: db.Pool}
}

func (r *ChallengeRepository) Create(ctx context.Context, c *models.Challenge) error {
	c.ID = uuid.New().String()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO mfa_challenges (id, factor_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.FactorID, c.CreatedAt, c.ExpiresAt)
	return database.MapPostgresError(err)
}

// Consume atomically marks an open, unexpired challenge of factorID as used.
// Any other case returns models.ErrNotFound.
func (r *ChallengeRepository) Consume(ctx context.Context, id, factorID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mfa_challenges SET consumed_at = $3
		WHERE id = $1 AND factor_id = $2 AND consumed_at IS NULL AND expires_at > $3
	`, id, factorID, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired removes challenges that expired before the given time
func (r *ChallengeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mfa_challenges WHERE expires_at < $1`, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
