// Package storage defines the session repository contract and the pieces
// shared by its backends.
//
// Every backend (memory, badgerstore, sqlstore, redisstore) implements
// SessionStore with the same semantics:
//
//   - Create is atomic: capacity, per-identity quota and token-hash
//     uniqueness are checked and the session inserted in one step, and a
//     failed Create leaves the store unchanged.
//   - Expiry is lazy: GetByToken on an expired session deletes it in the same
//     atomic step and reports domain.ErrSessionExpired; later lookups report
//     domain.ErrTokenInvalid.
//   - Expired sessions cannot be renewed, so they never come back.
//
// Backends are exercised by the shared suite in storagetest.
package storage
