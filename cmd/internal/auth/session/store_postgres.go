package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

const rowColumns = `id, user_id, refresh_token_hash, created_at, expired_at, revoked, revoked_at, rotated_at, rotations`

// Insert writes a new session row with a ULID id.
func (s *PostgresStore) Insert(ctx context.Context, in NewRow) (Row, error) {
	id, err := ids.NewULID(in.CreatedAt)
	if err != nil {
		return Row{}, fmt.Errorf("session.Insert: new id: %w", err)
	}

	row, err := scanPgRow(s.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, created_at, expired_at, revoked, rotations)
		VALUES ($1, $2, $3, $4, $5, false, 0)
		RETURNING `+rowColumns,
		id, in.UserID, in.TokenHash, in.CreatedAt, in.ExpiresAt,
	))
	if err != nil {
		return Row{}, fmt.Errorf("session.Insert: %w", err)
	}
	return row, nil
}

// FindActive loads the live row whose current digest is hash.
func (s *PostgresStore) FindActive(ctx context.Context, hash string, now time.Time) (Row, error) {
	return s.one(ctx, "session.FindActive", `
		SELECT `+rowColumns+`
		FROM sessions
		WHERE refresh_token_hash = $1 AND revoked = false AND expired_at > $2
	`, hash, now)
}

// Rotate swaps oldHash for newHash. See rotateTx.
func (s *PostgresStore) Rotate(ctx context.Context, oldHash, newHash string, now, expiresAt time.Time) (Row, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Row{}, fmt.Errorf("session.Rotate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := rotateTx(ctx, tx, oldHash, newHash, now, expiresAt)
	if err != nil {
		return Row{}, err
	}
	if err := retireTx(ctx, tx, oldHash, row.ID, now); err != nil {
		return Row{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Row{}, fmt.Errorf("session.Rotate: commit: %w", err)
	}
	return row, nil
}

// Revoke revokes a single session (idempotent). Expiry does not matter.
func (s *PostgresStore) Revoke(ctx context.Context, hash string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET revoked = true,
		    revoked_at = $2
		WHERE refresh_token_hash = $1 AND revoked = false
	`, hash, now)
	if err != nil {
		return 0, fmt.Errorf("session.Revoke: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForUser revokes all live sessions for a user (idempotent).
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET revoked = true,
		    revoked_at = $2
		WHERE user_id = $1 AND revoked = false
	`, userID, now)
	if err != nil {
		return 0, fmt.Errorf("session.RevokeAllForUser: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindRetired loads the session that rotated away from hash.
func (s *PostgresStore) FindRetired(ctx context.Context, hash string) (Retired, error) {
	var (
		out       Retired
		retiredAt time.Time
	)
	row, err := scanPgRow(s.pool.QueryRow(ctx, `
		SELECT s.id, s.user_id, s.refresh_token_hash, s.created_at, s.expired_at,
		       s.revoked, s.revoked_at, s.rotated_at, s.rotations, r.retired_at
		FROM session_retired_tokens r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.token_hash = $1
	`, hash), &retiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Retired{}, ErrSessionNotFound
	}
	if err != nil {
		return Retired{}, fmt.Errorf("session.FindRetired: %w", err)
	}
	out.Session = row
	out.RetiredAt = retiredAt.UTC()
	return out, nil
}

// Get loads a session row by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Row, error) {
	return s.one(ctx, "session.Get", `SELECT `+rowColumns+` FROM sessions WHERE id = $1`, id)
}

func (s *PostgresStore) one(ctx context.Context, op, query string, args ...any) (Row, error) {
	row, err := scanPgRow(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("%s: %w", op, err)
	}
	return row, nil
}

// scanPgRow scans rowColumns in order, then any extra trailing columns into extra.
func scanPgRow(r pgx.Row, extra ...any) (Row, error) {
	var row Row
	dest := append([]any{
		&row.ID,
		&row.UserID,
		&row.TokenHash,
		&row.CreatedAt,
		&row.ExpiresAt,
		&row.Revoked,
		&row.RevokedAt,
		&row.RotatedAt,
		&row.Rotations,
	}, extra...)
	err := r.Scan(dest...)
	if err != nil {
		return Row{}, err
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.ExpiresAt = row.ExpiresAt.UTC()
	row.RevokedAt = utcPtr(row.RevokedAt)
	row.RotatedAt = utcPtr(row.RotatedAt)
	return row, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
