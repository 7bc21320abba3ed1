// Package password is gatekeeper's one-way password hashing capability.
//
// Hashes are Argon2id encoded in a PHC-like string:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Encoded hashes are treated as untrusted input during Verify: parameters that
// exceed the configured cost by a wide margin are rejected before any key derivation.
//
// Password policy is not enforced here; callers only get hash and verify.
package password
