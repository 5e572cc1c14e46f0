package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/database"
)

// Open connects the repository selected by cfg.Driver. The returned close
// function releases the underlying connections.
func Open(ctx context.Context, cfg database.Config, logger zerolog.Logger) (Repository, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	switch cfg.Driver {
	case database.DriverPostgres:
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		repo := NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Str("driver", string(cfg.Driver)).Msg("connected to database")
		return repo, pool.Close, nil

	case database.DriverSQLite:
		repo, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("driver", string(cfg.Driver)).Str("path", cfg.SQLitePath).Msg("opened database")
		return repo, func() { _ = repo.Close() }, nil

	case database.DriverMemory:
		logger.Warn().Msg("using in-memory store, data is lost on exit")
		return NewInMemoryRepository(), func() {}, nil
	}

	return nil, nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
}
