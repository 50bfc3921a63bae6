package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/medpassport/internal/database"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FactorRepository persists enrolled MFA factors
type FactorRepository struct {
	pool *pgxpool.Pool
}

func NewFactorRepository(db *database.DB) *FactorRepository {
	return &FactorRepository{pool: db.Pool}
}

const factorColumns = `id, user_id, name, factor_type, totp_secret_encrypted, totp_secret_nonce, last_used_at, verified_at, created_at`

func scanFactorRow(scanner rowScanner) (*models.Factor, error) {
	var f models.Factor
	err := scanner.Scan(
		&f.ID, &f.UserID, &f.Name, &f.Type,
		&f.TOTPSecretEncrypted, &f.TOTPSecretNonce,
		&f.LastUsedAt, &f.VerifiedAt, &f.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &f, nil
}

func (r *FactorRepository) Create(ctx context.Context, f *models.Factor) (*models.Factor, error) {
	f.ID = uuid.New().String()
	f.CreatedAt = time.Now()

	query := `
		INSERT INTO mfa_factors (id, user_id, name, factor_type, totp_secret_encrypted, totp_secret_nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + factorColumns

	return scanFactorRow(r.pool.QueryRow(ctx, query,
		f.ID, f.UserID, f.Name, f.Type, f.TOTPSecretEncrypted, f.TOTPSecretNonce, f.CreatedAt,
	))
}

func (r *FactorRepository) GetByID(ctx context.Context, id string) (*models.Factor, error) {
	query := `SELECT ` + factorColumns + ` FROM mfa_factors WHERE id = $1`
	return scanFactorRow(r.pool.QueryRow(ctx, query, id))
}

func (r *FactorRepository) ListByUser(ctx context.Context, userID string) ([]*models.Factor, error) {
	query := `SELECT ` + factorColumns + ` FROM mfa_factors WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query factors: %w", err)
	}
	defer rows.Close()

	factors := make([]*models.Factor, 0)
	for rows.Next() {
		f, err := scanFactorRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan factor: %w", err)
		}
		factors = append(factors, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return factors, nil
}

// RecordUse marks a successful verification of the code in time step step.
// It fails with models.ErrConflict when that step or a later one was already
// used, so a concurrent replay of the same code loses the race.
func (r *FactorRepository) RecordUse(ctx context.Context, id string, step, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mfa_factors
		SET last_used_at = $2, verified_at = COALESCE(verified_at, $3)
		WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)
	`, id, step, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

func (r *FactorRepository) Delete(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mfa_factors WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
