// Package storage owns gatekeeper's relational schema and the embedded SQLite opener.
//
// Postgres is the production store; SQLite backs local development and tests.
// Both schemas declare the same uniqueness and length constraints that the
// application checks up front, so the database stays the authoritative guard.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// ApplyPostgres creates tables and indexes if they do not exist.
func ApplyPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("storage: nil pool")
	}
	// No arguments: pgx runs this over the simple protocol, which accepts multiple statements.
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// OpenSQLite opens (or creates) a SQLite database at path and applies the schema.
//
// The handle is limited to one connection: SQLite serializes writers anyway and a
// single connection avoids SQLITE_BUSY between pooled connections.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage: sqlite path is required")
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	dsn := filepath.Clean(path) + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// ToMillis normalizes timestamps into millisecond precision for SQLite storage.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis restores a UTC timestamp from SQLite storage.
func FromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
