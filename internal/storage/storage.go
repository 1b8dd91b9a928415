// Package storage selects and opens the ledger store backend named in the
// configuration. Ledger code only ever sees ledger.Store; the backend is a
// deployment decision.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"afterimage/internal/ledger"
	badgerstore "afterimage/internal/ledger/store/badger"
	"afterimage/internal/ledger/store/memory"
	"afterimage/internal/ledger/store/postgres"
	platformbadger "afterimage/internal/platform/badger"
	"afterimage/internal/platform/config"
)

// Backend is an opened ledger store plus whatever owns its resources.
type Backend struct {
	Store ledger.Store
	Name  string
	close func() error
}

// Close releases the backend's connections or files. The ledger must be
// closed first so buffered writes are flushed.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to the configured backend, migrating Postgres when needed.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Ledger.Store {
	case config.StoreMemory:
		logger.WarnContext(ctx, "ledger uses the in-memory store; records do not survive a restart")
		return &Backend{Store: memory.NewInMemoryStore(), Name: config.StoreMemory}, nil

	case config.StoreBadger:
		bcfg := platformbadger.DefaultConfig()
		bcfg.Path = cfg.Badger.Path
		bcfg.SyncWrites = cfg.Badger.SyncWrites
		bcfg.Logger = logger.With("component", "badger")
		db, err := platformbadger.Open(bcfg)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: badgerstore.New(db), Name: config.StoreBadger, close: db.Close}, nil

	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres ping failed: %w", err)
		}
		store := postgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Backend{Store: store, Name: config.StorePostgres, close: db.Close}, nil

	default:
		return nil, fmt.Errorf("unknown ledger store %q", cfg.Ledger.Store)
	}
}
