// Package db wires a Postgres connection pool into the governance and
// episode repositories. Grounded on
// internal/infrastructure/db/connection.go's Manager (pool config, ping-on-
// connect, health checker), repurposed from that file's
// Trades/Regimes/Premove repository trio onto this module's
// Proposals/Ledger/Doctrine/Episodes stores.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/racelock/veloengine/internal/domain/episodes"
	"github.com/racelock/veloengine/internal/domain/governance"
	"github.com/racelock/veloengine/internal/persistence/postgres"
)

// Config holds connection-pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultConfig returns reasonable pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// Repositories bundles the store implementations governance.Service and
// episodes.Runner need.
type Repositories struct {
	Proposals governance.ProposalStore
	Ledger    governance.LedgerStore
	Doctrine  governance.DoctrineStore
	Episodes  episodes.Store
}

// Manager owns the pool and the repositories built on top of it.
type Manager struct {
	db    *sqlx.DB
	Repos Repositories
}

// Connect opens the pool, pings it, and builds every repository.
func Connect(cfg Config) (*Manager, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Manager{
		db: db,
		Repos: Repositories{
			Proposals: postgres.NewProposalRepo(db, cfg.QueryTimeout),
			Ledger:    postgres.NewLedgerRepo(db, cfg.QueryTimeout),
			Doctrine:  postgres.NewDoctrineRepo(db, cfg.QueryTimeout),
			Episodes:  postgres.NewEpisodeRepo(db, cfg.QueryTimeout),
		},
	}, nil
}

// DB returns the underlying pool, e.g. for migrations.
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

func (m *Manager) Close() error {
	return m.db.Close()
}
