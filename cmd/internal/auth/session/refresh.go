package session

import (
	"context"
	"errors"

	"gatekeeper/cmd/security/token"
)

// SubjectFunc resolves the access-token subject for a user id.
type SubjectFunc func(ctx context.Context, userID string) (token.Subject, error)

// Open signs a fresh token pair for sub and records the refresh grant.
func (e *Engine) Open(ctx context.Context, sub token.Subject) (Issued, error) {
	access, err := e.codec.SignAccess(sub)
	if err != nil {
		return Issued{}, err
	}
	refresh, err := e.codec.SignRefresh(sub.UserID)
	if err != nil {
		return Issued{}, err
	}

	row, err := e.CreateSession(ctx, sub.UserID, refresh.Value)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Session: row, Access: access, Refresh: refresh}, nil
}

// Refresh runs one refresh: verify the refresh token, find its active grant,
// sign a new pair, then rotate the grant onto the new refresh token.
//
// Failures are token.ErrInvalidToken (bad signature, expired, wrong kind) or
// ErrSessionNotFound (no active grant, or lost a concurrent rotation).
// subject may be nil, in which case the access token carries only the user id.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, subject SubjectFunc) (Issued, error) {
	claims, err := e.codec.VerifyRefresh(refreshToken)
	if err != nil {
		e.metrics.RefreshFailed(ReasonInvalidToken)
		return Issued{}, err
	}

	row, err := e.ValidateAndConsume(ctx, refreshToken)
	if err != nil {
		e.metrics.RefreshFailed(failureReason(err))
		return Issued{}, err
	}
	if row.UserID != claims.UserID {
		e.metrics.RefreshFailed(ReasonNotFound)
		return Issued{}, ErrSessionNotFound
	}

	sub := token.Subject{UserID: row.UserID}
	if subject != nil {
		if sub, err = subject(ctx, row.UserID); err != nil {
			e.metrics.RefreshFailed(ReasonStorage)
			return Issued{}, err
		}
	}

	access, err := e.codec.SignAccess(sub)
	if err != nil {
		return Issued{}, err
	}
	refresh, err := e.codec.SignRefresh(row.UserID)
	if err != nil {
		return Issued{}, err
	}

	updated, err := e.RotateToken(ctx, row, refresh.Value)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			e.metrics.RefreshFailed(ReasonLostRace)
		} else {
			e.metrics.RefreshFailed(ReasonStorage)
		}
		return Issued{}, err
	}

	e.log.Debug("auth.refresh.rotated", "session_id", updated.ID, "user_id", updated.UserID, "rotations", updated.Rotations)
	return Issued{Session: updated, Access: access, Refresh: refresh}, nil
}

func failureReason(err error) string {
	switch {
	case IsReuse(err):
		return ReasonReuse
	case errors.Is(err, ErrSessionNotFound):
		return ReasonNotFound
	default:
		return ReasonStorage
	}
}
