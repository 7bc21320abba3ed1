// Package session implements gatekeeper's refresh-token session lifecycle.
//
// A session is one durable grant row whose refresh token value is replaced on
// every refresh (rotate-in-place). Rotation is a single conditional update keyed
// on the old token digest, so concurrent refreshes presenting the same token
// resolve in the store: exactly one wins, the rest see ErrSessionNotFound.
//
// Refresh tokens are never persisted in plaintext. Rows carry an HMAC-SHA256
// digest (plain SHA-256 when no digest key is configured), and every value a
// session rotates away from is kept in session_retired_tokens so that a replay
// can be recognized and answered by revoking every session of the owner.
package session
