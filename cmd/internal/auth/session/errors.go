package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a refresh token does not match an active session.
	// Never-issued, rotated-away, revoked and expired tokens are indistinguishable.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// ReuseError reports that a rotated-away refresh token was presented again.
// It unwraps to ErrSessionNotFound so callers treat it like any other miss.
type ReuseError struct {
	SessionID string
	UserID    string
	Revoked   int64
}

func (e ReuseError) Error() string {
	return fmt.Sprintf("%s: refresh token reuse on session %s (revoked %d)", ErrSessionNotFound, e.SessionID, e.Revoked)
}

func (e ReuseError) Unwrap() error { return ErrSessionNotFound }

// IsReuse reports whether err carries a ReuseError.
func IsReuse(err error) bool {
	var re ReuseError
	return errors.As(err, &re)
}
