// Package domain defines the core domain models for tokgate.
//
// Domain models are plain values without IO dependencies:
//
//   - Session: an authenticated session bound to an identity
//   - Token: opaque session token generation, hashing and format checks
//   - Errors: the error taxonomy shared by every layer, with stable codes
//
// Plaintext tokens are never stored. Everything below the protocol handler
// addresses a session by its token hash.
package domain
