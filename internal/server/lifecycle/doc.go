// Package lifecycle starts and stops a complete tokgate server.
//
// A Controller owns one run of the server at a time:
//
//	Start:  open store -> build services -> sweeper -> listener -> admin endpoint
//	Stop:   listener (drain) -> admin endpoint -> sweeper -> store
//
// Restart performs Stop followed by Start. Volatile backends come back empty.
package lifecycle
