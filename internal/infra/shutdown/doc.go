// Package shutdown blocks the main goroutine until SIGINT or SIGTERM and
// then runs registered cleanup hooks under a timeout.
//
// Usage:
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(ctrl.Stop)
//	if err := h.Wait(ctx); err != nil { ... }
package shutdown
