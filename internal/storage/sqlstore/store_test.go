package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/storage/storagetest"
)

func TestStore_Memory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, opts storage.Options) storage.SessionStore {
		st, err := Open(context.Background(), ":memory:", opts)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		return st
	})
}

func TestStore_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	clock := storagetest.NewClock()
	opts := storage.Options{Now: clock.Now}

	st, err := Open(ctx, path, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s, _ := storagetest.NewSession(t, clock, "alice", time.Hour)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	st, err = Open(ctx, path, opts)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer st.Close()

	got, err := st.GetByToken(ctx, s.TokenHash)
	if err != nil {
		t.Fatalf("GetByToken() after reopen error = %v", err)
	}
	if got.Identity != "alice" || got.ExpiresAt != s.ExpiresAt {
		t.Errorf("GetByToken() = %+v", got)
	}
}
