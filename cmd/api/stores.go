package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/medpassport/internal/background"
	"github.com/BradenHooton/medpassport/internal/config"
	"github.com/BradenHooton/medpassport/internal/database"
	"github.com/BradenHooton/medpassport/internal/handlers"
	"github.com/BradenHooton/medpassport/internal/identity/local"
	"github.com/BradenHooton/medpassport/internal/repositories"
	"github.com/BradenHooton/medpassport/internal/repositories/memory"
	"github.com/BradenHooton/medpassport/internal/repositories/valkeystore"
	"github.com/valkey-io/valkey-go"
)

// backend bundles the stores selected by SESSION_STORE
type backend struct {
	identity local.Stores
	sessions handlers.SessionStore
	idle     background.IdleStore
	expiring map[string]background.ExpiringStore
	health   map[string]handlers.HealthChecker
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.Store.Backend == config.StoreMemory {
		logger.Warn("using in-memory stores; all state is lost on restart")
		codes := memory.NewRecoveryCodeRepository()
		challenges := memory.NewChallengeRepository()
		revocations := memory.NewTokenRevocationRepository()
		sessions := memory.NewSessionContextRepository()
		return &backend{
			identity: local.Stores{
				Users:       memory.NewUserRepository(codes),
				Factors:     memory.NewFactorRepository(),
				Challenges:  challenges,
				Recovery:    codes,
				Revocations: revocations,
			},
			sessions: sessions,
			idle:     sessions,
			expiring: map[string]background.ExpiringStore{
				"revoked_tokens": revocations,
				"mfa_challenges": challenges,
				"recovery_codes": codes,
			},
			health: map[string]handlers.HealthChecker{},
			close:  func() {},
		}, nil
	}

	if err := database.MigrateConfig(ctx, &cfg.Database, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	codes := repositories.NewRecoveryCodeRepository(db)
	challenges := repositories.NewChallengeRepository(db)
	revocations := repositories.NewTokenRevocationRepository(db)
	b := &backend{
		identity: local.Stores{
			Users:       repositories.NewUserRepository(db),
			Factors:     repositories.NewFactorRepository(db),
			Challenges:  challenges,
			Recovery:    codes,
			Revocations: revocations,
		},
		expiring: map[string]background.ExpiringStore{
			"revoked_tokens": revocations,
			"mfa_challenges": challenges,
			"recovery_codes": codes,
		},
		health: map[string]handlers.HealthChecker{"database": db},
		close:  db.Close,
	}

	if cfg.Store.Backend == config.StorePostgres {
		sessions := repositories.NewSessionContextRepository(db)
		b.sessions = sessions
		b.idle = sessions
		return b, nil
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.Store.ValkeyAddress},
		Password:    cfg.Store.ValkeyPassword,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	sessions := valkeystore.NewSessionContextRepository(client, cfg.Store.ValkeyPrefix, cfg.Store.ContextTTL)
	b.sessions = sessions
	b.health["valkey"] = sessions
	b.close = func() {
		client.Close()
		db.Close()
	}
	return b, nil
}
