package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BradenHooton/medpassport/internal/database"
	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionContextRepository stores session contexts as JSONB, last write wins
type SessionContextRepository struct {
	pool *pgxpool.Pool
}

func NewSessionContextRepository(db *database.DB) *SessionContextRepository {
	return &SessionContextRepository{pool: db.Pool}
}

// Get returns models.ErrNotFound for unknown sessions
func (r *SessionContextRepository) Get(ctx context.Context, sessionID string) (models.SessionContext, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT context FROM session_contexts WHERE session_id = $1`, sessionID).Scan(&raw)
	if err != nil {
		return models.SessionContext{}, database.MapPostgresError(err)
	}

	var sc models.SessionContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		return models.SessionContext{}, fmt.Errorf("failed to decode session context: %w", err)
	}
	return sc, nil
}

func (r *SessionContextRepository) Save(ctx context.Context, sessionID string, sc models.SessionContext) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to encode session context: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO session_contexts (session_id, context, version, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET context = EXCLUDED.context, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
	`, sessionID, raw, sc.Version, time.Now())
	return database.MapPostgresError(err)
}

func (r *SessionContextRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM session_contexts WHERE session_id = $1`, sessionID)
	return database.MapPostgresError(err)
}

// DeleteIdle removes contexts not written since before
func (r *SessionContextRepository) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM session_contexts WHERE updated_at < $1`, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
