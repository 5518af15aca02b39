package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/yndnr/tokgate/internal/core/service"
	"github.com/yndnr/tokgate/internal/protocol/resp"
	"github.com/yndnr/tokgate/internal/server/sockserver"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/storage/memory"
	"github.com/yndnr/tokgate/internal/storage/storagetest"
)

const testPassword = "wonderland"

func startServer(t *testing.T) (string, *storagetest.Clock) {
	t.Helper()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	verifier, err := service.NewStaticVerifier(map[string]string{"alice": hash})
	if err != nil {
		t.Fatalf("NewStaticVerifier() error = %v", err)
	}

	clock := storagetest.NewClock()
	st := memory.New(storage.Options{Now: clock.Now})
	sessions := service.NewSessionService(st, service.SessionConfig{DefaultTTL: time.Minute, MaxTTL: time.Hour}, nil,
		service.WithClock(clock.Now))
	auth := service.NewAuthService(verifier, nil, sessions, nil, nil)

	srv := sockserver.New(sockserver.Config{ListenAddr: "127.0.0.1:0", DrainTimeout: time.Second}, sessions, auth, nil, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv.Addr().String(), clock
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), addr, WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func replyCode(err error) string {
	var re *resp.ReplyError
	if errors.As(err, &re) {
		return re.Kind + " " + re.Code
	}
	return ""
}

func TestClient_SessionFlow(t *testing.T) {
	addr, clock := startServer(t)
	ctx := context.Background()
	c := dial(t, addr)

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	token, err := c.Login(ctx, "alice", testPassword, 10*time.Second)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if len(token) != 48 {
		t.Errorf("token length = %d, want 48", len(token))
	}

	id, err := c.Whoami(ctx)
	if err != nil || id != "alice" {
		t.Fatalf("Whoami() = %q, %v; want alice", id, err)
	}

	out, err := c.Data(ctx, token, []byte("hello"))
	if err != nil || !bytes.Equal(out, []byte("hello")) {
		t.Fatalf("Data() = %q, %v; want hello", out, err)
	}
	out, err = c.Data(ctx, token, nil)
	if err != nil || out != nil {
		t.Fatalf("Data(nil) = %q, %v; want nil", out, err)
	}

	ttl, err := c.TTL(ctx, token)
	if err != nil || ttl != 10 {
		t.Fatalf("TTL() = %d, %v; want 10", ttl, err)
	}

	clock.Advance(4 * time.Second)
	ttl, err = c.Renew(ctx, token, 30*time.Second)
	if err != nil || ttl != 30 {
		t.Fatalf("Renew() = %d, %v; want 30", ttl, err)
	}

	if err := c.Logout(ctx, ""); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	ttl, err = c.TTL(ctx, token)
	if err != nil || ttl != -2 {
		t.Fatalf("TTL() after logout = %d, %v; want -2", ttl, err)
	}
	if _, err := c.Data(ctx, token, nil); replyCode(err) != "AUTHFAIL TG-TOKN-4010" {
		t.Fatalf("Data() after logout error = %v", err)
	}
}

func TestClient_AuthOnSecondConnection(t *testing.T) {
	addr, _ := startServer(t)
	ctx := context.Background()

	token, err := dial(t, addr).Login(ctx, "alice", testPassword, 0)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	c := dial(t, addr)
	if _, err := c.Whoami(ctx); replyCode(err) != "AUTHFAIL TG-AUTH-4011" {
		t.Fatalf("Whoami() before Auth error = %v", err)
	}
	if err := c.Auth(ctx, token); err != nil {
		t.Fatalf("Auth() error = %v", err)
	}
	if id, err := c.Whoami(ctx); err != nil || id != "alice" {
		t.Fatalf("Whoami() = %q, %v", id, err)
	}
}

func TestClient_ErrorReplies(t *testing.T) {
	addr, _ := startServer(t)
	ctx := context.Background()
	c := dial(t, addr)

	if _, err := c.Login(ctx, "alice", "wrong", 0); replyCode(err) != "AUTHFAIL TG-AUTH-4010" {
		t.Errorf("Login() with bad password error = %v", err)
	}
	if err := c.Auth(ctx, "not-a-token"); replyCode(err) != "AUTHFAIL TG-TOKN-4000" {
		t.Errorf("Auth() with malformed token error = %v", err)
	}
	if _, err := c.Do(ctx, "TTL"); replyCode(err) != "ERR TG-ARG-1001" {
		t.Errorf("TTL without token error = %v", err)
	}

	// The connection survives error replies.
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestClient_QuitAndClosed(t *testing.T) {
	addr, _ := startServer(t)
	ctx := context.Background()
	c := dial(t, addr)

	if err := c.Quit(ctx); err != nil {
		t.Fatalf("Quit() error = %v", err)
	}
	if err := c.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping() after Quit error = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() twice error = %v", err)
	}
}

func TestClient_ProtocolErrorBreaksConnection(t *testing.T) {
	addr, _ := startServer(t)
	ctx := context.Background()
	c := dial(t, addr)

	if _, err := c.Do(ctx, "FLY"); replyCode(err) != "ERR TG-PROT-4000" {
		t.Fatalf("unknown command error = %v", err)
	}
	if err := c.Ping(ctx); err == nil {
		t.Fatal("Ping() after protocol error should fail")
	}
	if err := c.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("second Ping() error = %v, want ErrClosed", err)
	}
}

func TestClient_ContextCancel(t *testing.T) {
	// A listener that never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(5 * time.Second)
		}
	}()

	c := dial(t, ln.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	if err := c.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Ping() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Ping() did not return promptly on cancel")
	}
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Dial(context.Background(), addr); err == nil {
		t.Fatal("Dial() to closed port error = nil")
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{time.Second, "1"},
		{1500 * time.Millisecond, "2"},
		{time.Minute, "60"},
	}
	for _, tt := range tests {
		if got := seconds(tt.in); got != tt.want {
			t.Errorf("seconds(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
