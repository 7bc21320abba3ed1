// Package token is gatekeeper's token codec.
//
// Access tokens carry {uid, usr} and refresh tokens carry {uid}. Both are
// HS256 JWTs signed with distinct secrets, both carry a typ claim so one kind
// can never be verified as the other, and both carry a random jti so two
// tokens minted for the same user in the same second still differ.
//
// Refresh tokens are never persisted in plaintext. Digester produces the
// server-side lookup value: HMAC-SHA256 when a key is configured, SHA-256 otherwise.
// Output is always a 64-char hex string.
package token
