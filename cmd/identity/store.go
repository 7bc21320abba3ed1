package identity

import (
	"context"
	"time"
)

// User is gatekeeper's canonical security principal.
// Users are immutable after registration.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// NewUser is a validated, hashed registration ready for insert.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the credential persistence boundary.
//
// Implementations must enforce username and email uniqueness at the storage
// layer and report violations as ConflictError. Missing rows are ErrNotFound.
type Store interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	InsertUser(ctx context.Context, in NewUser) (User, error)
}
