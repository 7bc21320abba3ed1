package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatekeeper/cmd/internal/storage"
)

// SQLiteStore implements Store over an embedded SQLite database.
// The *sql.DB is owned by the caller.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore constructs a SQLiteStore over a handle opened by storage.OpenSQLite.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil sqlite db")
	}
	return &SQLiteStore{db: db}, nil
}

// FindByUsername loads a user by exact (trimmed) username.
func (s *SQLiteStore) FindByUsername(ctx context.Context, username string) (User, error) {
	return s.findOne(ctx, "identity.FindByUsername", `WHERE username = ?`, NormalizeUsername(username))
}

// FindByEmail loads a user by normalized email.
func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, "identity.FindByEmail", `WHERE email = ?`, NormalizeEmail(email))
}

// FindByID loads a user by id.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (User, error) {
	return s.findOne(ctx, "identity.FindByID", `WHERE id = ?`, strings.TrimSpace(id))
}

func (s *SQLiteStore) findOne(ctx context.Context, op, where string, arg string) (User, error) {
	if arg == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty lookup key"}
	}

	var (
		u         User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.CreatedAt = storage.FromMillis(createdAt)
	return u, nil
}

// InsertUser inserts a user row. Unique violations map to ConflictError.
func (s *SQLiteStore) InsertUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.InsertUser"

	u, err := prepareInsert(op, in)
	if err != nil {
		return User{}, err
	}
	// Match the stored millisecond precision.
	u.CreatedAt = storage.FromMillis(storage.ToMillis(u.CreatedAt))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, storage.ToMillis(u.CreatedAt),
	)
	if err != nil {
		if field, ok := sqliteClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		if strings.Contains(err.Error(), "CHECK constraint failed") {
			return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "constraint check failed"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// sqliteClassifyUniqueViolation inspects the driver message, e.g.
// "constraint failed: UNIQUE constraint failed: users.username (2067)".
func sqliteClassifyUniqueViolation(err error) (string, bool) {
	msg := err.Error()
	i := strings.Index(msg, "UNIQUE constraint failed:")
	if i < 0 {
		return "", false
	}
	cols := msg[i+len("UNIQUE constraint failed:"):]
	return classifyConstraint(cols), true
}
