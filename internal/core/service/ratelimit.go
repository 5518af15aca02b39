package service

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/tokgate/pkg/cmap"
)

// Login rate defaults: 5 attempts per minute per client.
const (
	DefaultLoginRate  = 5
	DefaultLoginBurst = 5
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // Unix nanoseconds
}

// LoginLimiter throttles login attempts per client key (usually the IP).
type LoginLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cmap.Map[*limiterEntry]
	now      func() time.Time
}

// NewLoginLimiter allows perMinute attempts per minute with the given burst.
// perMinute <= 0 disables limiting.
func NewLoginLimiter(perMinute, burst int) *LoginLimiter {
	l := &LoginLimiter{
		limit:    rate.Inf,
		burst:    burst,
		limiters: cmap.New[*limiterEntry](),
		now:      time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Limit(float64(perMinute) / 60)
		if l.burst <= 0 {
			l.burst = perMinute
		}
	}
	return l
}

// Allow reports whether key may attempt a login now.
func (l *LoginLimiter) Allow(key string) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	now := l.now()
	e, _ := l.limiters.Compute(key, func(cur *limiterEntry, exists bool) (*limiterEntry, bool) {
		if exists {
			return cur, true
		}
		return &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}, true
	})
	e.lastSeen.Store(now.UnixNano())
	return e.limiter.AllowN(now, 1)
}

// Prune drops limiters idle for longer than idle and returns the count.
func (l *LoginLimiter) Prune(idle time.Duration) int {
	if l == nil {
		return 0
	}
	cutoff := l.now().Add(-idle).UnixNano()
	return len(l.limiters.RemoveIf(func(_ string, e *limiterEntry) bool {
		return e.lastSeen.Load() < cutoff
	}))
}

// Len returns the number of tracked clients.
func (l *LoginLimiter) Len() int {
	if l == nil {
		return 0
	}
	return l.limiters.Count()
}
