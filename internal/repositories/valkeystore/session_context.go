// Package valkeystore keeps session contexts in valkey. Keys are
// "<prefix>:session_context:<session id>" and expire after the idle TTL.
package valkeystore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
	"github.com/valkey-io/valkey-go"
)

const objectTypeSessionContext = "session_context"

// SessionContextRepository stores session contexts as JSON strings
type SessionContextRepository struct {
	valkey valkey.Client
	prefix string
	ttl    time.Duration
}

func NewSessionContextRepository(client valkey.Client, prefix string, ttl time.Duration) *SessionContextRepository {
	return &SessionContextRepository{
		valkey: client,
		prefix: strings.TrimSuffix(prefix, ":"),
		ttl:    ttl,
	}
}

// Get returns models.ErrNotFound for unknown or expired sessions
func (r *SessionContextRepository) Get(ctx context.Context, sessionID string) (models.SessionContext, error) {
	bytes, err := r.valkey.Do(ctx, r.valkey.B().Get().Key(r.key(sessionID)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return models.SessionContext{}, models.ErrNotFound
		}
		return models.SessionContext{}, fmt.Errorf("executing get command: %w", err)
	}

	var sc models.SessionContext
	if err := json.Unmarshal(bytes, &sc); err != nil {
		return models.SessionContext{}, fmt.Errorf("unmarshaling session context: %w", err)
	}
	return sc, nil
}

// Save writes the context and restarts its idle TTL
func (r *SessionContextRepository) Save(ctx context.Context, sessionID string, sc models.SessionContext) error {
	bytes, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshaling session context: %w", err)
	}

	cmd := r.valkey.B().Set().Key(r.key(sessionID)).Value(valkey.BinaryString(bytes)).ExSeconds(r.ttlSeconds()).Build()
	if err := r.valkey.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}
	return nil
}

func (r *SessionContextRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.valkey.Do(ctx, r.valkey.B().Del().Key(r.key(sessionID)).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}
	return nil
}

// DeleteIdle is a no-op; valkey expires idle keys on its own.
func (r *SessionContextRepository) DeleteIdle(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// HealthCheck pings the server
func (r *SessionContextRepository) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.valkey.Do(ctx, r.valkey.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("valkey health check failed: %w", err)
	}
	return nil
}

func (r *SessionContextRepository) key(sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, objectTypeSessionContext, sessionID)
}

func (r *SessionContextRepository) ttlSeconds() int64 {
	seconds := int64(r.ttl / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
