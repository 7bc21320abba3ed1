package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/cmd/identity/ids"
	"gatekeeper/cmd/internal/storage"
)

// SQLiteStore implements Store over an embedded SQLite database.
//
// Write transactions begin IMMEDIATE (see storage.OpenSQLite), so a rotation
// holds the database write lock from its first statement.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed session store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: nil sqlite db")
	}
	return &SQLiteStore{db: db}, nil
}

// Insert writes a new session row with a ULID id.
func (s *SQLiteStore) Insert(ctx context.Context, in NewRow) (Row, error) {
	id, err := ids.NewULID(in.CreatedAt)
	if err != nil {
		return Row{}, fmt.Errorf("session.Insert: new id: %w", err)
	}

	row, err := scanSQLiteRow(s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, created_at, expired_at, revoked, rotations)
		VALUES (?, ?, ?, ?, ?, 0, 0)
		RETURNING `+rowColumns,
		id, in.UserID, in.TokenHash, storage.ToMillis(in.CreatedAt), storage.ToMillis(in.ExpiresAt),
	))
	if err != nil {
		return Row{}, fmt.Errorf("session.Insert: %w", err)
	}
	return row, nil
}

// FindActive loads the live row whose current digest is hash.
func (s *SQLiteStore) FindActive(ctx context.Context, hash string, now time.Time) (Row, error) {
	return s.one(ctx, "session.FindActive", `
		SELECT `+rowColumns+`
		FROM sessions
		WHERE refresh_token_hash = ? AND revoked = 0 AND expired_at > ?
	`, hash, storage.ToMillis(now))
}

// Rotate swaps oldHash for newHash and retires oldHash in one transaction.
func (s *SQLiteStore) Rotate(ctx context.Context, oldHash, newHash string, now, expiresAt time.Time) (Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Row{}, fmt.Errorf("session.Rotate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMs := storage.ToMillis(now)
	row, err := scanSQLiteRow(tx.QueryRowContext(ctx, `
		UPDATE sessions
		SET refresh_token_hash = ?,
		    created_at = ?,
		    expired_at = ?,
		    rotated_at = ?,
		    rotations = rotations + 1
		WHERE refresh_token_hash = ?
		  AND revoked = 0
		  AND expired_at > ?
		RETURNING `+rowColumns,
		newHash, nowMs, storage.ToMillis(expiresAt), nowMs, oldHash, nowMs,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Row{}, ErrSessionNotFound
		}
		return Row{}, fmt.Errorf("session.Rotate: update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_retired_tokens (token_hash, session_id, retired_at)
		VALUES (?, ?, ?)
		ON CONFLICT (token_hash) DO NOTHING
	`, oldHash, row.ID, nowMs); err != nil {
		return Row{}, fmt.Errorf("session.Rotate: retire: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Row{}, fmt.Errorf("session.Rotate: commit: %w", err)
	}
	return row, nil
}

// Revoke revokes a single session (idempotent). Expiry does not matter.
func (s *SQLiteStore) Revoke(ctx context.Context, hash string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked = 1,
		    revoked_at = ?
		WHERE refresh_token_hash = ? AND revoked = 0
	`, storage.ToMillis(now), hash)
	if err != nil {
		return 0, fmt.Errorf("session.Revoke: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session.Revoke: rows affected: %w", err)
	}
	return n, nil
}

// RevokeAllForUser revokes all live sessions for a user (idempotent).
func (s *SQLiteStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked = 1,
		    revoked_at = ?
		WHERE user_id = ? AND revoked = 0
	`, storage.ToMillis(now), userID)
	if err != nil {
		return 0, fmt.Errorf("session.RevokeAllForUser: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session.RevokeAllForUser: rows affected: %w", err)
	}
	return n, nil
}

// FindRetired loads the session that rotated away from hash.
func (s *SQLiteStore) FindRetired(ctx context.Context, hash string) (Retired, error) {
	var retiredAt int64
	row, err := scanSQLiteRow(s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.refresh_token_hash, s.created_at, s.expired_at,
		       s.revoked, s.revoked_at, s.rotated_at, s.rotations, r.retired_at
		FROM session_retired_tokens r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.token_hash = ?
	`, hash), &retiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Retired{}, ErrSessionNotFound
	}
	if err != nil {
		return Retired{}, fmt.Errorf("session.FindRetired: %w", err)
	}
	return Retired{Session: row, RetiredAt: storage.FromMillis(retiredAt)}, nil
}

// Get loads a session row by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Row, error) {
	return s.one(ctx, "session.Get", `SELECT `+rowColumns+` FROM sessions WHERE id = ?`, id)
}

func (s *SQLiteStore) one(ctx context.Context, op, query string, args ...any) (Row, error) {
	row, err := scanSQLiteRow(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("%s: %w", op, err)
	}
	return row, nil
}

// scanSQLiteRow scans rowColumns in order, then any extra trailing columns into extra.
func scanSQLiteRow(r *sql.Row, extra ...any) (Row, error) {
	var (
		row                  Row
		createdAt, expiresAt int64
		revoked              int64
		revokedAt, rotatedAt sql.NullInt64
	)
	dest := append([]any{
		&row.ID,
		&row.UserID,
		&row.TokenHash,
		&createdAt,
		&expiresAt,
		&revoked,
		&revokedAt,
		&rotatedAt,
		&row.Rotations,
	}, extra...)
	err := r.Scan(dest...)
	if err != nil {
		return Row{}, err
	}
	row.CreatedAt = storage.FromMillis(createdAt)
	row.ExpiresAt = storage.FromMillis(expiresAt)
	row.Revoked = revoked != 0
	row.RevokedAt = millisPtr(revokedAt)
	row.RotatedAt = millisPtr(rotatedAt)
	return row, nil
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := storage.FromMillis(v.Int64)
	return &t
}
