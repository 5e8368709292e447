// Package auth verifies the opaque bearer credentials presented on the
// realtime handshake.
//
// Pulse does not mint credentials. An external identity service issues
// them and writes their hashes into the database; Pulse only resolves a
// presented token to a user identity, honoring expiry and revocation.
//
// Two verifiers are provided:
//   - PostgresVerifier: production path, hash lookup against pulse.auth_tokens.
//   - StaticVerifier: dev/test path, fixed token table from configuration.
//
// Plaintext tokens are never stored or logged. Storage holds only the
// SHA-256 (or HMAC-SHA256) hex digest produced by cmd/security/token.
package auth
