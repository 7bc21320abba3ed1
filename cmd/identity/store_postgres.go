package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

const userColumns = `id, username, email, password, created_at`

// FindByUsername loads a user by exact (trimmed) username.
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (User, error) {
	return s.findOne(ctx, "identity.FindByUsername", `WHERE username = $1`, NormalizeUsername(username))
}

// FindByEmail loads a user by normalized email.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, "identity.FindByEmail", `WHERE email = $1`, NormalizeEmail(email))
}

// FindByID loads a user by id.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	return s.findOne(ctx, "identity.FindByID", `WHERE id = $1`, strings.TrimSpace(id))
}

func (s *PostgresStore) findOne(ctx context.Context, op, where string, arg string) (User, error) {
	if arg == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty lookup key"}
	}

	var u User
	err := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users `+where, arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// InsertUser inserts a user row. Unique violations map to ConflictError.
func (s *PostgresStore) InsertUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.InsertUser"

	u, err := prepareInsert(op, in)
	if err != nil {
		return User{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		if pgIsCheckViolation(err) {
			return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "constraint check failed"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// prepareInsert normalizes and assigns identity fields shared by every backend.
func prepareInsert(op string, in NewUser) (User, error) {
	username := NormalizeUsername(in.Username)
	email := NormalizeEmail(in.Email)
	if username == "" || email == "" || in.PasswordHash == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username, email and password hash are required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, fmt.Errorf("%s: new id: %w", op, err)
	}

	return User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
	}, nil
}

func pgIsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23514" // check_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}
	return classifyConstraint(pgErr.ConstraintName), true
}

// classifyConstraint prefers stable constraint names and falls back to substring matching.
func classifyConstraint(name string) string {
	c := strings.ToLower(strings.TrimSpace(name))
	switch c {
	case "uq_users_username":
		return "username"
	case "uq_users_email":
		return "email"
	}
	switch {
	case strings.Contains(c, "username"):
		return "username"
	case strings.Contains(c, "email"):
		return "email"
	default:
		return "unique"
	}
}
