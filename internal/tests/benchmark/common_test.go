package benchmark

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/storage/memory"
)

// SessionCounts are the preload sizes for full runs.
var SessionCounts = []int{10000, 50000, 100000, 500000}

// SmallSessionCounts keep CI runs short.
var SmallSessionCounts = []int{1000, 5000, 10000}

// newSession creates a session and returns its plaintext token.
func newSession(b *testing.B, identity string, ttl time.Duration) (*domain.Session, string) {
	b.Helper()
	plain, hash, err := domain.GenerateToken()
	if err != nil {
		b.Fatalf("GenerateToken() error = %v", err)
	}
	sess, err := domain.NewSession(identity, hash, "192.0.2.1:40000", time.Now(), ttl)
	if err != nil {
		b.Fatalf("NewSession() error = %v", err)
	}
	return sess, plain
}

// prefillStore loads count sessions spread over 1000 identities and returns
// their tokens.
func prefillStore(b *testing.B, st storage.SessionStore, count int) []string {
	b.Helper()
	ctx := context.Background()
	tokens := make([]string, count)
	for i := range tokens {
		sess, plain := newSession(b, fmt.Sprintf("user-%d", i%1000), time.Hour)
		if err := st.Create(ctx, sess); err != nil {
			b.Fatalf("Create() error = %v", err)
		}
		tokens[i] = plain
	}
	return tokens
}

func newMemoryStore() *memory.Store {
	return memory.New(storage.Options{})
}

// reportMemory reports heap usage after a GC.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

func runWithSessionCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("sessions_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
