package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiringStore drops rows whose expiry is before the cutoff
type ExpiringStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// IdleStore drops session contexts not touched since the cutoff
type IdleStore interface {
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}

// CleanupManager periodically removes expired revocations, challenges and
// recovery codes, and session contexts that have gone idle
type CleanupManager struct {
	expiring    map[string]ExpiringStore
	sessions    IdleStore
	sessionIdle time.Duration
	logger      *slog.Logger
	interval    time.Duration
	now         func() time.Time
	stopCh      chan struct{}
}

// NewCleanupManager creates a new cleanup manager. sessions may be nil when
// the backend expires contexts on its own.
func NewCleanupManager(
	expiring map[string]ExpiringStore,
	sessions IdleStore,
	sessionIdle time.Duration,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		expiring:    expiring,
		sessions:    sessions,
		sessionIdle: sessionIdle,
		logger:      logger,
		interval:    interval,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup sweep. A failing store is logged and
// does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()
	for name, store := range cm.expiring {
		rowsDeleted, err := store.DeleteExpired(cleanupCtx, now)
		if err != nil {
			cm.logger.Error("failed to cleanup expired rows",
				slog.String("store", name),
				slog.Any("error", err))
			continue
		}
		if rowsDeleted > 0 {
			cm.logger.Info("expired rows removed",
				slog.String("store", name),
				slog.Int64("rows_deleted", rowsDeleted))
		}
	}

	if cm.sessions == nil || cm.sessionIdle <= 0 {
		return
	}
	rowsDeleted, err := cm.sessions.DeleteIdle(cleanupCtx, now.Add(-cm.sessionIdle))
	if err != nil {
		cm.logger.Error("failed to cleanup idle sessions", slog.Any("error", err))
		return
	}
	if rowsDeleted > 0 {
		cm.logger.Info("idle sessions removed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
