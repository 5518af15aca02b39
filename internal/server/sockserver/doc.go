// Package sockserver implements the tokgate connection server.
//
// A Server accepts raw TCP clients speaking RESP2 and serves each one on its
// own goroutine. Clients log in with a password to obtain a session token,
// then present that token on later requests. Sessions are shared by every
// connection through service.SessionService.
//
// Connection states:
//
//	CONNECTED -> AUTHENTICATING -> AUTHENTICATED -> CLOSING -> CLOSED
//	CONNECTED -> CLOSING -> CLOSED
//
// Shutdown stops accepting, wakes idle handlers through an immediate read
// deadline and waits for them up to the drain timeout before closing the
// remaining sockets.
package sockserver
