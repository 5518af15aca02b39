// Package badgerstore persists sessions in an embedded Badger database.
//
// Key layout:
//
//	s\x00<token_hash>             -> JSON session
//	i\x00<identity>\x00<token_hash> -> empty (identity index)
//
// Both keys carry a Badger TTL a little beyond the session's ExpiresAt, so
// abandoned sessions are eventually dropped by Badger itself while lazy
// expiry still observes them once.
package badgerstore
