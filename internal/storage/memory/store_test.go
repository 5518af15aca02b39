package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, opts storage.Options) storage.SessionStore {
		return New(opts)
	})
}

func TestStore_ConcurrentExpiredLookup(t *testing.T) {
	ctx := context.Background()
	clock := storagetest.NewClock()
	st := New(storage.Options{Now: clock.Now})

	s, _ := storagetest.NewSession(t, clock, "alice", time.Second)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(2 * time.Second)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		expired int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.GetByToken(ctx, s.TokenHash)
			switch {
			case errors.Is(err, domain.ErrSessionExpired):
				mu.Lock()
				expired++
				mu.Unlock()
			case errors.Is(err, domain.ErrTokenInvalid):
			default:
				t.Errorf("GetByToken() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if expired != 1 {
		t.Errorf("expired reported %d times, want exactly 1", expired)
	}
	if len(st.identities) != 0 {
		t.Errorf("identity index not empty: %v", st.identities)
	}
}

func TestStore_RejectsInvalidSession(t *testing.T) {
	st := New(storage.Options{})
	err := st.Create(context.Background(), &domain.Session{Identity: "alice"})
	if !errors.Is(err, domain.ErrSessionValidation) {
		t.Errorf("Create() error = %v, want %v", err, domain.ErrSessionValidation)
	}
}

func TestStore_Close(t *testing.T) {
	ctx := context.Background()
	clock := storagetest.NewClock()
	st := New(storage.Options{Now: clock.Now})
	s, _ := storagetest.NewSession(t, clock, "alice", time.Minute)
	_ = st.Create(ctx, s)

	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Errorf("Count() after Close = %d, want 0", n)
	}
}
