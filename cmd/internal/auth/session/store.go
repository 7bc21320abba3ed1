package session

import (
	"context"
	"time"
)

// Row mirrors a sessions row.
type Row struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	RotatedAt *time.Time
	Rotations int
}

// Active reports whether the grant can still authenticate a refresh at now.
func (r Row) Active(now time.Time) bool {
	return !r.Revoked && r.ExpiresAt.After(now)
}

// NewRow is the input for Store.Insert.
type NewRow struct {
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Retired is a token digest that a session rotated away from.
type Retired struct {
	Session   Row
	RetiredAt time.Time
}

// Store abstracts persistence for session state.
//
// Implementations serialize conflicting mutations per row with the database's
// own atomicity. They never hold in-process locks: several gatekeeper
// instances may share one store.
type Store interface {
	// Insert writes a new active session row.
	Insert(ctx context.Context, in NewRow) (Row, error)

	// FindActive returns the non-revoked, unexpired row whose current token digest is hash.
	FindActive(ctx context.Context, hash string, now time.Time) (Row, error)

	// Rotate replaces oldHash with newHash in one conditional update and records
	// oldHash as retired in the same transaction. Zero matched rows is ErrSessionNotFound.
	Rotate(ctx context.Context, oldHash, newHash string, now, expiresAt time.Time) (Row, error)

	// Revoke marks the row holding hash revoked and reports how many rows changed.
	// Unknown or already revoked tokens are not an error.
	Revoke(ctx context.Context, hash string, now time.Time) (int64, error)

	// RevokeAllForUser revokes every live row of userID and reports how many changed.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)

	// FindRetired returns the session that once held hash before rotating away
	// from it, with the time of that rotation.
	FindRetired(ctx context.Context, hash string) (Retired, error)

	// Get loads a row by id.
	Get(ctx context.Context, id string) (Row, error)
}
