package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/medpassport/internal/models"
)

type storedContext struct {
	sc        models.SessionContext
	updatedAt time.Time
}

// SessionContextRepository is a process-local session store, last write wins
type SessionContextRepository struct {
	mu       sync.RWMutex
	contexts map[string]storedContext
	now      func() time.Time
}

func NewSessionContextRepository() *SessionContextRepository {
	return &SessionContextRepository{
		contexts: make(map[string]storedContext),
		now:      time.Now,
	}
}

func (r *SessionContextRepository) Get(_ context.Context, sessionID string) (models.SessionContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.contexts[sessionID]
	if !ok {
		return models.SessionContext{}, models.ErrNotFound
	}
	return stored.sc.Clone(), nil
}

func (r *SessionContextRepository) Save(_ context.Context, sessionID string, sc models.SessionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.contexts[sessionID] = storedContext{sc: sc.Clone(), updatedAt: r.now()}
	return nil
}

func (r *SessionContextRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.contexts, sessionID)
	return nil
}

func (r *SessionContextRepository) DeleteIdle(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, stored := range r.contexts {
		if stored.updatedAt.Before(before) {
			delete(r.contexts, id)
			n++
		}
	}
	return n, nil
}
