package authapi

import (
	"errors"
	"net/http"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/security/token"
)

// Kind tags a client-visible failure.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindDuplicate         Kind = "DuplicateCredential"
	KindInvalidCredential Kind = "InvalidCredential"
	KindSessionNotFound   Kind = "SessionNotFound"
	KindStorage           Kind = "StorageError"
	KindTokenInvalid      Kind = "TokenInvalid"
)

// Failure is the tagged error surfaced to clients: a kind, an HTTP status and a safe message.
type Failure struct {
	Kind    Kind
	Status  int
	Message string
}

func (f Failure) Error() string { return string(f.Kind) + ": " + f.Message }

var (
	failDuplicate         = Failure{Kind: KindDuplicate, Status: http.StatusConflict, Message: "Conflict for duplication"}
	failInvalidCredential = Failure{Kind: KindInvalidCredential, Status: http.StatusUnauthorized, Message: "Invalid credential"}
	failSessionNotFound   = Failure{Kind: KindSessionNotFound, Status: http.StatusUnauthorized, Message: "Session not found"}
	failTokenInvalid      = Failure{Kind: KindTokenInvalid, Status: http.StatusUnauthorized, Message: "Invalid token"}
	failStorage           = Failure{Kind: KindStorage, Status: http.StatusInternalServerError, Message: "Internal Server Error"}
	failBadBody           = Failure{Kind: KindValidation, Status: http.StatusBadRequest, Message: "Invalid request body"}
	failMissingRefresh    = Failure{Kind: KindValidation, Status: http.StatusBadRequest, Message: "Refresh token is required"}
)

// classify maps any error from the account flows onto a Failure.
// Unknown errors become StorageError; the caller logs them.
func classify(err error) (Failure, bool) {
	var f Failure
	if errors.As(err, &f) {
		return f, true
	}

	var verr identity.ValidationError
	if errors.As(err, &verr) {
		status := http.StatusBadRequest
		if errors.Is(verr.Kind, identity.ErrMalformedField) {
			status = http.StatusUnprocessableEntity
		}
		return Failure{Kind: KindValidation, Status: status, Message: verr.Message}, true
	}

	switch {
	case errors.Is(err, identity.ErrConflict):
		return failDuplicate, true
	case errors.Is(err, identity.ErrInvalidCredential):
		return failInvalidCredential, true
	case errors.Is(err, session.ErrSessionNotFound):
		return failSessionNotFound, true
	case errors.Is(err, token.ErrInvalidToken):
		return failTokenInvalid, true
	case errors.Is(err, identity.ErrInvalidInput):
		return Failure{Kind: KindValidation, Status: http.StatusBadRequest, Message: "Invalid input"}, true
	default:
		return failStorage, false
	}
}
