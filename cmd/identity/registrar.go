package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gatekeeper/cmd/security/password"
)

// defaultStoreTimeout bounds each credential store call when none is configured.
const defaultStoreTimeout = 5 * time.Second

// Hasher is the one-way password capability. password.Config satisfies it.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
}

// Registrar owns credential registration and authentication.
type Registrar struct {
	store        Store
	hasher       Hasher
	now          func() time.Time
	storeTimeout time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// NewRegistrar constructs a Registrar. now may be nil; a non-positive
// storeTimeout falls back to five seconds.
func NewRegistrar(store Store, hasher Hasher, now func() time.Time, storeTimeout time.Duration) (*Registrar, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	if hasher == nil {
		return nil, errors.New("identity: nil hasher")
	}
	if now == nil {
		now = time.Now
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Registrar{store: store, hasher: hasher, now: now, storeTimeout: storeTimeout}, nil
}

// storeCtx derives the per-call deadline from the caller's context.
func (r *Registrar) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.storeTimeout)
}

// Register validates in, rejects duplicates, hashes the password, and inserts the user.
//
// Username uniqueness is checked before email. A concurrent insert that wins
// the race still surfaces as ConflictError through the storage constraint.
func (r *Registrar) Register(ctx context.Context, in RegistrationInput) (User, error) {
	const op = "identity.Register"

	if err := ValidateRegistration(in); err != nil {
		return User{}, err
	}

	if _, err := r.findByUsername(ctx, in.Username); err == nil {
		return User{}, ConflictError{Op: op, Field: "username"}
	} else if !IsNotFound(err) {
		return User{}, err
	}

	if _, err := r.findByEmail(ctx, in.Email); err == nil {
		return User{}, ConflictError{Op: op, Field: "email"}
	} else if !IsNotFound(err) {
		return User{}, err
	}

	hash, err := r.hasher.Hash(in.Password)
	switch {
	case errors.Is(err, password.ErrEmptyPassword), errors.Is(err, password.ErrPasswordTooLong):
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	case err != nil:
		return User{}, fmt.Errorf("%s: hash password: %w", op, err)
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.store.InsertUser(sctx, NewUser{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Now:          r.now(),
	})
}

// Authenticate checks username/password and returns the user.
//
// Unknown users and wrong passwords are indistinguishable: both return
// ErrInvalidCredential, and unknown users still pay for one verify.
func (r *Registrar) Authenticate(ctx context.Context, in LoginInput) (User, error) {
	const op = "identity.Authenticate"

	if err := ValidateLogin(in); err != nil {
		return User{}, err
	}

	u, err := r.findByUsername(ctx, in.Username)
	if err != nil {
		if IsNotFound(err) {
			r.burnVerify(in.Password)
			return User{}, OpError{Op: op, Kind: ErrInvalidCredential}
		}
		return User{}, err
	}

	ok, err := r.hasher.Verify(u.PasswordHash, in.Password)
	if err != nil {
		return User{}, fmt.Errorf("%s: verify: %w", op, err)
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredential}
	}
	return u, nil
}

// User loads a user by id.
func (r *Registrar) User(ctx context.Context, id string) (User, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.store.FindByID(sctx, id)
}

func (r *Registrar) findByUsername(ctx context.Context, username string) (User, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.store.FindByUsername(sctx, username)
}

func (r *Registrar) findByEmail(ctx context.Context, email string) (User, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.store.FindByEmail(sctx, email)
}

func (r *Registrar) burnVerify(pw string) {
	r.dummyOnce.Do(func() {
		h, err := r.hasher.Hash("gatekeeper-dummy-password")
		if err == nil {
			r.dummyHash = h
		}
	})
	if r.dummyHash != "" {
		_, _ = r.hasher.Verify(r.dummyHash, pw)
	}
}
