// Package postgres provides the PostgreSQL audit journal for workflow runs.
package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl-lend/db"
	"github.com/archon-research/stl-lend/db/migrator"
)

// JournalConfig configures the database behind the run journal. A single
// workflow process writes a handful of rows per run, so the pool stays small.
type JournalConfig struct {
	// URL is the PostgreSQL connection string.
	URL string

	// MaxConns caps the pool. Zero keeps the pgx default.
	MaxConns int32

	// ConnLifetime recycles connections older than this.
	ConnLifetime time.Duration

	// Migrations holds the *.sql files applied before the journal is
	// returned. Nil means the embedded journal schema.
	Migrations fs.FS
}

// JournalConfigDefaults returns the journal settings used by the CLI.
func JournalConfigDefaults(url string) JournalConfig {
	return JournalConfig{
		URL:          url,
		MaxConns:     4,
		ConnLifetime: 5 * time.Minute,
	}
}

// OpenJournal connects to the database, brings the journal schema up to
// date and returns a RunJournal that owns the pool. Close releases it.
func OpenJournal(ctx context.Context, cfg JournalConfig, logger *slog.Logger) (*RunJournal, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	migrations := cfg.Migrations
	if migrations == nil {
		sub, err := fs.Sub(db.Migrations, db.MigrationsDir)
		if err != nil {
			return nil, fmt.Errorf("loading journal migrations: %w", err)
		}
		migrations = sub
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.ConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to journal database: %w", err)
	}

	if err := migrator.New(pool, migrations, logger).ApplyAll(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying journal migrations: %w", err)
	}

	journal, err := NewRunJournal(pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	journal.ownsPool = true
	return journal, nil
}
