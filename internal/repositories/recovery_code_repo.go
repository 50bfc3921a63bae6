package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/medpassport/internal/database"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecoveryCodeRepository persists hashed password reset codes
type RecoveryCodeRepository struct {
	pool *pgxpool.Pool
}

func NewRecoveryCodeRepository(db *database.DB) *RecoveryCodeRepository {
	return &RecoveryCodeRepository{pool: db.Pool}
}

func (r *RecoveryCodeRepository) Create(ctx context.Context, rc *models.RecoveryCode) error {
	rc.ID = uuid.New().String()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO recovery_codes (id, user_id, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, rc.ID, rc.UserID, rc.CodeHash, rc.ExpiresAt)
	return database.MapPostgresError(err)
}

// Consume atomically spends an unexpired code. Unknown, expired and already
// spent codes all return models.ErrNotFound.
func (r *RecoveryCodeRepository) Consume(ctx context.Context, codeHash string, at time.Time) (*models.RecoveryCode, error) {
	var rc models.RecoveryCode
	err := r.pool.QueryRow(ctx, `
		UPDATE recovery_codes SET consumed_at = $2
		WHERE code_hash = $1 AND consumed_at IS NULL AND expires_at > $2
		RETURNING id, user_id, code_hash, expires_at, consumed_at
	`, codeHash, at).Scan(&rc.ID, &rc.UserID, &rc.CodeHash, &rc.ExpiresAt, &rc.ConsumedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rc, nil
}

// DeleteExpired removes codes that expired before the given time
func (r *RecoveryCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recovery_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
