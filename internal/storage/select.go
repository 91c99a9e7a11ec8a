package storage

import (
	"context"

	"github.com/rs/zerolog"

	"chatdesk/internal/config"
)

// Select builds the provider once at startup. A configured DSN that fails to
// open is logged and replaced by the in-memory store.
func Select(ctx context.Context, cfg config.DBConfig, logger zerolog.Logger) Provider {
	if cfg.DSN == "" {
		logger.Info().Str("backend", BackendMemory).Msg("no DATABASE_URL configured, using in-memory storage")
		return NewMemoryStore()
	}

	store, err := OpenSQL(ctx, cfg.Driver, cfg.DSN, cfg.AutoMigrate)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Driver).Msg("relational storage unavailable, falling back to in-memory storage")
		return NewMemoryStore()
	}
	logger.Info().Str("backend", store.Backend()).Msg("storage ready")
	return store
}
