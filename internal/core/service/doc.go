// Package service provides the domain services of tokgate.
//
//   - SessionService: create, validate, renew, revoke and sweep sessions on
//     top of a storage.SessionStore
//   - AuthService: password login that combines a CredentialVerifier, the
//     per-client LoginLimiter and SessionService
//   - StaticVerifier: CredentialVerifier backed by configured password hashes
//
// Services are safe for concurrent use by any number of connection handlers.
package service
