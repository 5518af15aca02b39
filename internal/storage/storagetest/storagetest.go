// Package storagetest holds the behaviour suite every storage.SessionStore
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/storage"
)

// Factory opens a fresh, empty store configured with opts.
type Factory func(t *testing.T, opts storage.Options) storage.SessionStore

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.UnixMilli(1_700_000_000_000)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewSession builds a session for identity created at clock.Now.
func NewSession(t *testing.T, clock *Clock, identity string, ttl time.Duration) (*domain.Session, string) {
	t.Helper()
	plain, hash, err := domain.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	s, err := domain.NewSession(identity, hash, "127.0.0.1:40000", clock.Now(), ttl)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s, plain
}

// Run runs the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"ReturnsCopies", testReturnsCopies},
		{"Conflict", testConflict},
		{"Capacity", testCapacity},
		{"CapacityReclaimsExpired", testCapacityReclaimsExpired},
		{"Quota", testQuota},
		{"LazyExpiry", testLazyExpiry},
		{"ExpiryBoundary", testExpiryBoundary},
		{"Renew", testRenew},
		{"DeleteByToken", testDeleteByToken},
		{"DeleteByIdentity", testDeleteByIdentity},
		{"DeleteExpired", testDeleteExpired},
		{"ConcurrentCreate", testConcurrentCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore)
		})
	}
}

func open(t *testing.T, newStore Factory, clock *Clock, maxSessions, perIdentity int) storage.SessionStore {
	t.Helper()
	st := newStore(t, storage.Options{
		MaxSessions:            maxSessions,
		MaxSessionsPerIdentity: perIdentity,
		Now:                    clock.Now,
	})
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustCount(t *testing.T, st storage.SessionStore, want int) {
	t.Helper()
	n, err := st.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != want {
		t.Errorf("Count() = %d, want %d", n, want)
	}
}

func testCreateAndGet(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	s, _ := NewSession(t, clock, "alice", time.Minute)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := st.GetByToken(ctx, s.TokenHash)
	if err != nil {
		t.Fatalf("GetByToken() error = %v", err)
	}
	if got.ID != s.ID || got.Identity != "alice" || got.ExpiresAt != s.ExpiresAt || got.RemoteAddr != s.RemoteAddr {
		t.Errorf("GetByToken() = %+v, want %+v", got, s)
	}

	_, err = st.GetByToken(ctx, domain.HashToken("unknown"))
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("GetByToken(unknown) error = %v, want %v", err, domain.ErrTokenInvalid)
	}
	mustCount(t, st, 1)
}

func testReturnsCopies(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	s, _ := NewSession(t, clock, "alice", time.Minute)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.Identity = "mallory"

	got, _ := st.GetByToken(ctx, s.TokenHash)
	got.ExpiresAt = 0

	again, err := st.GetByToken(ctx, s.TokenHash)
	if err != nil {
		t.Fatalf("GetByToken() error = %v", err)
	}
	if again.Identity != "alice" || again.ExpiresAt == 0 {
		t.Errorf("store shares state with callers: %+v", again)
	}
}

func testConflict(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	s, _ := NewSession(t, clock, "alice", time.Minute)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	dup, _ := NewSession(t, clock, "bob", time.Minute)
	dup.TokenHash = s.TokenHash

	if err := st.Create(ctx, dup); !errors.Is(err, domain.ErrSessionConflict) {
		t.Errorf("Create(dup) error = %v, want %v", err, domain.ErrSessionConflict)
	}
	got, _ := st.GetByToken(ctx, s.TokenHash)
	if got == nil || got.Identity != "alice" {
		t.Errorf("conflicting create changed the store: %+v", got)
	}
	mustCount(t, st, 1)
}

func testCapacity(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 2, 0)

	for i := 0; i < 2; i++ {
		s, _ := NewSession(t, clock, fmt.Sprintf("user%d", i), time.Minute)
		if err := st.Create(ctx, s); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}
	extra, _ := NewSession(t, clock, "late", time.Minute)
	if err := st.Create(ctx, extra); !errors.Is(err, domain.ErrSessionCapacity) {
		t.Fatalf("Create(extra) error = %v, want %v", err, domain.ErrSessionCapacity)
	}
	if _, err := st.GetByToken(ctx, extra.TokenHash); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("rejected session is visible: err = %v", err)
	}
	mustCount(t, st, 2)
}

func testCapacityReclaimsExpired(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 1, 1)

	old, _ := NewSession(t, clock, "alice", time.Second)
	if err := st.Create(ctx, old); err != nil {
		t.Fatalf("Create(old) error = %v", err)
	}
	clock.Advance(2 * time.Second)

	fresh, _ := NewSession(t, clock, "alice", time.Minute)
	if err := st.Create(ctx, fresh); err != nil {
		t.Fatalf("Create(fresh) error = %v, want expired session reclaimed", err)
	}
	mustCount(t, st, 1)
}

func testQuota(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 2)

	for i := 0; i < 2; i++ {
		s, _ := NewSession(t, clock, "alice", time.Minute)
		if err := st.Create(ctx, s); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}
	third, _ := NewSession(t, clock, "alice", time.Minute)
	if err := st.Create(ctx, third); !errors.Is(err, domain.ErrSessionQuotaExceeded) {
		t.Errorf("Create(third) error = %v, want %v", err, domain.ErrSessionQuotaExceeded)
	}
	bob, _ := NewSession(t, clock, "bob", time.Minute)
	if err := st.Create(ctx, bob); err != nil {
		t.Errorf("Create(bob) error = %v", err)
	}
	mustCount(t, st, 3)
}

func testLazyExpiry(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	s, _ := NewSession(t, clock, "alice", 2*time.Second)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(3 * time.Second)

	if _, err := st.GetByToken(ctx, s.TokenHash); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("first lookup error = %v, want %v", err, domain.ErrSessionExpired)
	}
	if _, err := st.GetByToken(ctx, s.TokenHash); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("second lookup error = %v, want %v", err, domain.ErrTokenInvalid)
	}
	mustCount(t, st, 0)

	n, err := st.DeleteByIdentity(ctx, "alice")
	if err != nil || n != 0 {
		t.Errorf("DeleteByIdentity() = (%d, %v), want (0, nil): index not cleaned", n, err)
	}
}

func testExpiryBoundary(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	s, _ := NewSession(t, clock, "alice", time.Second)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(time.Second)
	if _, err := st.GetByToken(ctx, s.TokenHash); err != nil {
		t.Errorf("GetByToken at ExpiresAt error = %v, want valid", err)
	}
	clock.Advance(time.Millisecond)
	if _, err := st.GetByToken(ctx, s.TokenHash); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("GetByToken after ExpiresAt error = %v, want %v", err, domain.ErrSessionExpired)
	}
}

func testRenew(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	s, _ := NewSession(t, clock, "alice", 2*time.Second)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clock.Advance(time.Second)
	newExp := clock.Now().Add(time.Minute).UnixMilli()
	got, err := st.Renew(ctx, s.TokenHash, newExp)
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if got.ExpiresAt != newExp {
		t.Errorf("Renew().ExpiresAt = %d, want %d", got.ExpiresAt, newExp)
	}

	clock.Advance(30 * time.Second)
	if _, err := st.GetByToken(ctx, s.TokenHash); err != nil {
		t.Errorf("GetByToken after renew error = %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := st.Renew(ctx, s.TokenHash, clock.Now().Add(time.Minute).UnixMilli()); !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("Renew(expired) error = %v, want %v", err, domain.ErrSessionExpired)
	}
	if _, err := st.GetByToken(ctx, s.TokenHash); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expired session came back: err = %v", err)
	}
	if _, err := st.Renew(ctx, domain.HashToken("nope"), newExp); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("Renew(unknown) error = %v, want %v", err, domain.ErrTokenInvalid)
	}
}

func testDeleteByToken(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	s, _ := NewSession(t, clock, "alice", time.Minute)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := st.DeleteByToken(ctx, s.TokenHash)
	if err != nil {
		t.Fatalf("DeleteByToken() error = %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("DeleteByToken() returned %s, want %s", got.ID, s.ID)
	}
	if _, err := st.DeleteByToken(ctx, s.TokenHash); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("second DeleteByToken() error = %v, want %v", err, domain.ErrTokenInvalid)
	}
	if _, err := st.GetByToken(ctx, s.TokenHash); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("GetByToken after delete error = %v", err)
	}
	mustCount(t, st, 0)
}

func testDeleteByIdentity(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	var aliceHashes []string
	for i := 0; i < 3; i++ {
		s, _ := NewSession(t, clock, "alice", time.Minute)
		if err := st.Create(ctx, s); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		aliceHashes = append(aliceHashes, s.TokenHash)
	}
	bob, _ := NewSession(t, clock, "bob", time.Minute)
	if err := st.Create(ctx, bob); err != nil {
		t.Fatalf("Create(bob) error = %v", err)
	}

	n, err := st.DeleteByIdentity(ctx, "alice")
	if err != nil || n != 3 {
		t.Fatalf("DeleteByIdentity() = (%d, %v), want (3, nil)", n, err)
	}
	for _, h := range aliceHashes {
		if _, err := st.GetByToken(ctx, h); !errors.Is(err, domain.ErrTokenInvalid) {
			t.Errorf("alice session still visible: err = %v", err)
		}
	}
	if _, err := st.GetByToken(ctx, bob.TokenHash); err != nil {
		t.Errorf("bob session lost: %v", err)
	}
	mustCount(t, st, 1)
}

func testDeleteExpired(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	st := open(t, newStore, clock, 0, 0)

	for i := 0; i < 3; i++ {
		s, _ := NewSession(t, clock, "short", time.Second)
		if err := st.Create(ctx, s); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	long, _ := NewSession(t, clock, "long", time.Hour)
	if err := st.Create(ctx, long); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clock.Advance(5 * time.Second)
	n, err := st.DeleteExpired(ctx)
	if err != nil || n != 3 {
		t.Fatalf("DeleteExpired() = (%d, %v), want (3, nil)", n, err)
	}
	mustCount(t, st, 1)
	if n, _ := st.DeleteByIdentity(ctx, "short"); n != 0 {
		t.Errorf("identity index still holds %d swept sessions", n)
	}
	if _, err := st.GetByToken(ctx, long.TokenHash); err != nil {
		t.Errorf("live session swept: %v", err)
	}
}

func testConcurrentCreate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	const limit = 5
	st := open(t, newStore, clock, limit, 0)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		s, _ := NewSession(t, clock, fmt.Sprintf("user%d", i), time.Minute)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.Create(ctx, s)
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, domain.ErrSessionCapacity), errors.Is(err, domain.ErrStorageError):
			default:
				t.Errorf("Create() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded == 0 || succeeded > limit {
		t.Fatalf("succeeded = %d, want 1..%d", succeeded, limit)
	}
	mustCount(t, st, succeeded)
}
