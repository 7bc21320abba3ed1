package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
)

// backend bundles the credential and session stores with the handle that owns them.
type backend struct {
	name     string
	users    identity.Store
	sessions session.Store

	pool *pgxpool.Pool
	db   *sql.DB
}

// Ping reports whether the underlying database accepts work within timeout.
func (b *backend) Ping(ctx context.Context, timeout time.Duration) error {
	switch {
	case b.pool != nil:
		return PingDB(ctx, b.pool, timeout)
	case b.db != nil:
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return b.db.PingContext(ctx)
	default:
		return errors.New("no database configured")
	}
}

// Close releases the owned handle.
func (b *backend) Close(_ context.Context) error {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// openBackend selects Postgres when a database URL is set and SQLite otherwise.
// The schema is applied in both cases.
func openBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	if cfg.DatabaseURL == "" {
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		users, err := identity.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sessions, err := session.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return &backend{name: "sqlite", users: users, sessions: sessions, db: db}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.ApplyPostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sessions, err := session.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("db.enabled.postgres_store")
	return &backend{name: "postgres", users: users, sessions: sessions, pool: pool}, nil
}

// NewDBPool builds a pgxpool with the configured sizes and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
