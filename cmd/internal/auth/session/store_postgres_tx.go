package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rotateTx is the compare-and-swap: the WHERE clause re-checks the old digest,
// the revoked flag and expiry, so under concurrent rotations only the first
// committer matches and the others see zero rows.
func rotateTx(ctx context.Context, tx pgx.Tx, oldHash, newHash string, now, expiresAt time.Time) (Row, error) {
	row, err := scanPgRow(tx.QueryRow(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $2,
		    created_at = $3,
		    expired_at = $4,
		    rotated_at = $3,
		    rotations = rotations + 1
		WHERE refresh_token_hash = $1
		  AND revoked = false
		  AND expired_at > $3
		RETURNING `+rowColumns,
		oldHash, newHash, now, expiresAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		if pgIsUniqueViolation(err) {
			// The new digest already exists: treat like a lost race rather than a 500.
			return Row{}, ErrSessionNotFound
		}
		return Row{}, fmt.Errorf("session.Rotate: update: %w", err)
	}
	return row, nil
}

func retireTx(ctx context.Context, tx pgx.Tx, hash, sessionID string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO session_retired_tokens (token_hash, session_id, retired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO NOTHING
	`, hash, sessionID, now)
	if err != nil {
		return fmt.Errorf("session.Rotate: retire: %w", err)
	}
	return nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
