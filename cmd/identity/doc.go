// Package identity is gatekeeper's credential store.
//
// It owns user records (id, username, email, password hash), the ordered
// registration/login validation pipeline, and the Postgres and SQLite
// persistence backends. Uniqueness of username and email is checked before
// insert for a friendly error and enforced again by storage constraints,
// which remain the authoritative guard under concurrent registrations.
package identity
