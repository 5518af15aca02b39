package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	_, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	s, err := NewSession("alice", hash, "127.0.0.1:5000", now, time.Hour)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if !strings.HasPrefix(s.ID, SessionIDPrefix) || len(s.ID) != len(SessionIDPrefix)+26 {
		t.Errorf("ID = %q, want tgss-{ulid}", s.ID)
	}
	if s.ID != strings.ToLower(s.ID) {
		t.Errorf("ID = %q, want lowercase", s.ID)
	}
	if s.CreatedAt != now.UnixMilli() || s.LastActive != s.CreatedAt {
		t.Errorf("CreatedAt = %d, LastActive = %d, want %d", s.CreatedAt, s.LastActive, now.UnixMilli())
	}
	if s.ExpiresAt != now.Add(time.Hour).UnixMilli() {
		t.Errorf("ExpiresAt = %d, want %d", s.ExpiresAt, now.Add(time.Hour).UnixMilli())
	}
}

func TestNewSession_Invalid(t *testing.T) {
	now := time.Now()
	_, hash, _ := GenerateToken()

	tests := []struct {
		name     string
		identity string
		hash     string
		ttl      time.Duration
		want     error
	}{
		{"zero ttl", "alice", hash, 0, ErrInvalidArgument},
		{"negative ttl", "alice", hash, -time.Second, ErrInvalidArgument},
		{"empty identity", "", hash, time.Minute, ErrSessionValidation},
		{"identity with space", "al ice", hash, time.Minute, ErrSessionValidation},
		{"identity too long", strings.Repeat("a", MaxIdentityLength+1), hash, time.Minute, ErrSessionValidation},
		{"bad hash", "alice", "nope", time.Minute, ErrSessionValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.identity, tt.hash, "", now, tt.ttl)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewSession() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSession_Expiry(t *testing.T) {
	s := &Session{CreatedAt: 1000, ExpiresAt: 2000}

	tests := []struct {
		now         int64
		wantExpired bool
		wantTTL     time.Duration
	}{
		{1500, false, 500 * time.Millisecond},
		{2000, false, 0},
		{2001, true, 0},
	}
	for _, tt := range tests {
		if got := s.IsExpiredAt(tt.now); got != tt.wantExpired {
			t.Errorf("IsExpiredAt(%d) = %v, want %v", tt.now, got, tt.wantExpired)
		}
		if got := s.TTLAt(tt.now); got != tt.wantTTL {
			t.Errorf("TTLAt(%d) = %v, want %v", tt.now, got, tt.wantTTL)
		}
	}
}

func TestSession_Clone(t *testing.T) {
	s := &Session{ID: "a", Identity: "alice"}
	c := s.Clone()
	c.Identity = "bob"
	if s.Identity != "alice" {
		t.Error("Clone() shares state with the original")
	}
}

func TestGenerateSessionID_Monotonic(t *testing.T) {
	now := time.Now()
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := GenerateSessionID(now)
		if err != nil {
			t.Fatalf("GenerateSessionID() error = %v", err)
		}
		if id <= prev {
			t.Fatalf("id %q not greater than %q", id, prev)
		}
		prev = id
	}
}
