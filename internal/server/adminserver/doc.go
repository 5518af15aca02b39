// Package adminserver serves the operational HTTP endpoint of tokgate.
//
// It is separate from the client protocol listener and exposes:
//
//	GET /healthz  liveness and build version
//	GET /readyz   503 until the session store answers
//	GET /metrics  Prometheus exposition of the instance registry
//	GET /stats    live session and connection counts
//
// The endpoint carries no session operations. Binding it to a loopback
// address is recommended.
package adminserver
