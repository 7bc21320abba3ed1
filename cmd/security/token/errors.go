package token

import "errors"

// Public, stable errors for callers.
var (
	// ErrInvalidToken covers bad signatures, wrong token kind, malformed claims and expiry.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for unusable codec configuration.
	ErrConfig = errors.New("invalid token config")
)
