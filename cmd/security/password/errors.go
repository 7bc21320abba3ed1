package password

import "errors"

// Public, stable errors for callers.
var (
	ErrEmptyPassword   = errors.New("empty password")
	ErrPasswordTooLong = errors.New("password too long")
	ErrInvalidHash     = errors.New("invalid password hash")
	ErrInvalidParams   = errors.New("invalid argon2id params")
)
