package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput      = errors.New("invalid_input")
	ErrMissingField      = errors.New("missing_field")
	ErrMalformedField    = errors.New("malformed_field")
	ErrNotFound          = errors.New("not_found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidCredential = errors.New("invalid_credential")
)
