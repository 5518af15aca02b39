// Package token provides opaque token generation and hashing.
//
// Tokens are drawn from crypto/rand and encoded as Base64 RawURL, so they are
// safe to carry on a line-oriented wire protocol. Only SHA-256 hashes of
// tokens are ever stored; comparisons against a stored hash run in constant
// time.
//
// Token format used by tokgate:
//
//   - Prefix: tgtk_ (5 characters)
//   - Body: 43 characters (32 random bytes, Base64 RawURL)
//
// Hash format:
//
//   - Prefix: tgth_ (5 characters)
//   - Body: 64 hex characters (SHA-256)
package token
