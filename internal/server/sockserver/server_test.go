package sockserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/core/service"
	"github.com/yndnr/tokgate/internal/protocol/resp"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/storage/memory"
	"github.com/yndnr/tokgate/internal/storage/storagetest"
	"github.com/yndnr/tokgate/internal/telemetry/metric"
)

const testPassword = "wonderland"

var (
	verifierOnce sync.Once
	verifier     *service.StaticVerifier
	verifierErr  error
)

func testVerifier(t *testing.T) *service.StaticVerifier {
	t.Helper()
	verifierOnce.Do(func() {
		hash, err := service.HashPassword(testPassword)
		if err != nil {
			verifierErr = err
			return
		}
		verifier, verifierErr = service.NewStaticVerifier(map[string]string{"alice": hash, "bob": hash})
	})
	if verifierErr != nil {
		t.Fatalf("verifier: %v", verifierErr)
	}
	return verifier
}

type testEnv struct {
	srv      *Server
	sessions *service.SessionService
	clock    *storagetest.Clock
}

func startServer(t *testing.T, cfg Config, limiter *service.LoginLimiter) *testEnv {
	t.Helper()
	clock := storagetest.NewClock()
	st := memory.New(storage.Options{Now: clock.Now})
	m := metric.New()
	sessions := service.NewSessionService(st, service.SessionConfig{DefaultTTL: 30 * time.Second, MaxTTL: time.Hour}, nil,
		service.WithClock(clock.Now), service.WithMetrics(m))
	auth := service.NewAuthService(testVerifier(t), limiter, sessions, nil, m)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 2 * time.Second
	}
	srv := New(cfg, sessions, auth, nil, m)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &testEnv{srv: srv, sessions: sessions, clock: clock}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &testClient{t: t, conn: conn, br: bufio.NewReader(conn), bw: bufio.NewWriter(conn)}
}

func (c *testClient) do(args ...string) resp.Reply {
	c.t.Helper()
	if err := resp.WriteCommand(c.bw, args...); err != nil {
		c.t.Fatalf("write %v: %v", args, err)
	}
	if err := c.bw.Flush(); err != nil {
		c.t.Fatalf("flush %v: %v", args, err)
	}
	r, err := resp.ReadReply(c.br)
	if err != nil {
		c.t.Fatalf("read reply to %v: %v", args, err)
	}
	return r
}

func (c *testClient) login(identity string) string {
	c.t.Helper()
	r := c.do("LOGIN", identity, testPassword)
	if err := r.Err(); err != nil {
		c.t.Fatalf("LOGIN %s: %v", identity, err)
	}
	return r.Str
}

// expectClosed asserts the server closed the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	if _, err := c.br.ReadByte(); !errors.Is(err, io.EOF) {
		var netErr net.Error
		if !(errors.As(err, &netErr) && !netErr.Timeout()) {
			c.t.Fatalf("read after close = %v, want EOF", err)
		}
	}
}

func expectError(t *testing.T, r resp.Reply, kind, code string) {
	t.Helper()
	err := r.Err()
	if err == nil {
		t.Fatalf("reply = %+v, want %s %s", r, kind, code)
	}
	var re *resp.ReplyError
	if !errors.As(err, &re) {
		t.Fatalf("reply error type %T", err)
	}
	if re.Kind != kind || re.Code != code {
		t.Fatalf("reply error = %q, want %s %s", re.Msg, kind, code)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_Ping(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)

	if r := c.do("PING"); r.Type != resp.TypeSimple || r.Str != "PONG" {
		t.Errorf("PING = %+v, want +PONG", r)
	}
	if r := c.do("ping", "hello"); r.Type != resp.TypeBulk || r.Str != "hello" {
		t.Errorf("PING hello = %+v, want bulk hello", r)
	}
}

func TestServer_LoginDataExpiry(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)

	r := c.do("LOGIN", "alice", testPassword, "TTL", "5")
	if err := r.Err(); err != nil {
		t.Fatalf("LOGIN error = %v", err)
	}
	token := r.Str
	if len(token) != domain.TokenLength || !strings.HasPrefix(token, domain.TokenPrefix) {
		t.Fatalf("token = %q, want %d chars with prefix %s", token, domain.TokenLength, domain.TokenPrefix)
	}

	if r := c.do("DATA", token, "payload"); r.Err() != nil || r.Str != "payload" {
		t.Fatalf("DATA = %+v, want payload echo", r)
	}
	if r := c.do("DATA", token); r.Type != resp.TypeSimple || r.Str != "OK" {
		t.Fatalf("DATA without payload = %+v, want +OK", r)
	}
	if r := c.do("WHOAMI"); r.Str != "alice" {
		t.Fatalf("WHOAMI = %+v, want alice", r)
	}
	if r := c.do("TTL", token); r.Type != resp.TypeInteger || r.Int != 5 {
		t.Fatalf("TTL = %+v, want 5", r)
	}

	env.clock.Advance(6 * time.Second)

	expectError(t, c.do("DATA", token, "payload"), "AUTHFAIL", domain.ErrSessionExpired.Code)
	expectError(t, c.do("DATA", token, "payload"), "AUTHFAIL", domain.ErrTokenInvalid.Code)
	if r := c.do("TTL", token); r.Int != ttlUnknown {
		t.Fatalf("TTL after expiry = %+v, want %d", r, ttlUnknown)
	}

	// The connection survives authentication failures.
	if r := c.do("PING"); r.Str != "PONG" {
		t.Fatalf("PING after auth failure = %+v", r)
	}
}

func TestServer_LoginFailures(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)

	tests := []struct {
		name string
		args []string
		kind string
		code string
	}{
		{"wrong password", []string{"LOGIN", "alice", "nope"}, "AUTHFAIL", domain.ErrAuthenticationFailed.Code},
		{"unknown identity", []string{"LOGIN", "mallory", testPassword}, "AUTHFAIL", domain.ErrAuthenticationFailed.Code},
		{"missing password", []string{"LOGIN", "alice"}, "ERR", domain.ErrInvalidArgument.Code},
		{"bad ttl keyword", []string{"LOGIN", "alice", testPassword, "EX", "5"}, "ERR", domain.ErrInvalidArgument.Code},
		{"negative ttl", []string{"LOGIN", "alice", testPassword, "TTL", "-1"}, "ERR", domain.ErrInvalidArgument.Code},
		{"non-integer ttl", []string{"LOGIN", "alice", testPassword, "TTL", "soon"}, "ERR", domain.ErrInvalidArgument.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, c.do(tt.args...), tt.kind, tt.code)
		})
	}

	expectError(t, c.do("WHOAMI"), "AUTHFAIL", domain.ErrNotAuthenticated.Code)
	if r := c.do("PING"); r.Str != "PONG" {
		t.Fatalf("PING = %+v, connection should stay open", r)
	}
}

func TestServer_LoginRateLimited(t *testing.T) {
	env := startServer(t, Config{}, service.NewLoginLimiter(1, 1))
	c := dial(t, env.srv)

	expectError(t, c.do("LOGIN", "alice", "nope"), "AUTHFAIL", domain.ErrAuthenticationFailed.Code)
	expectError(t, c.do("LOGIN", "alice", testPassword), "ERR", domain.ErrRateLimited.Code)
}

func TestServer_AuthAcrossConnections(t *testing.T) {
	env := startServer(t, Config{}, nil)
	first := dial(t, env.srv)
	second := dial(t, env.srv)

	token := first.login("alice")

	if r := second.do("AUTH", token); r.Type != resp.TypeSimple || r.Str != "OK" {
		t.Fatalf("AUTH = %+v, want +OK", r)
	}
	if r := second.do("WHOAMI"); r.Str != "alice" {
		t.Fatalf("WHOAMI = %+v, want alice", r)
	}

	expectError(t, second.do("AUTH", "tgtk_bogus"), "AUTHFAIL", domain.ErrTokenMalformed.Code)
	// A failed AUTH keeps the previous binding.
	if r := second.do("WHOAMI"); r.Str != "alice" {
		t.Fatalf("WHOAMI after failed AUTH = %+v, want alice", r)
	}

	// Revoking on one connection invalidates the token everywhere.
	if r := first.do("LOGOUT"); r.Str != "OK" {
		t.Fatalf("LOGOUT = %+v", r)
	}
	expectError(t, second.do("WHOAMI"), "AUTHFAIL", domain.ErrTokenInvalid.Code)
	expectError(t, second.do("WHOAMI"), "AUTHFAIL", domain.ErrNotAuthenticated.Code)
}

func TestServer_Logout(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)

	expectError(t, c.do("LOGOUT"), "AUTHFAIL", domain.ErrNotAuthenticated.Code)

	token := c.login("bob")
	if r := c.do("LOGOUT", token); r.Str != "OK" {
		t.Fatalf("LOGOUT = %+v", r)
	}
	// Idempotent.
	if r := c.do("LOGOUT", token); r.Str != "OK" {
		t.Fatalf("second LOGOUT = %+v", r)
	}
	expectError(t, c.do("WHOAMI"), "AUTHFAIL", domain.ErrNotAuthenticated.Code)

	n, err := env.sessions.Count(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Count() = %d, %v; want 0", n, err)
	}
}

func TestServer_LogoutMalformedToken(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)

	expectError(t, c.do("LOGOUT", "not-a-token"), "AUTHFAIL", domain.ErrTokenMalformed.Code)
	if r := c.do("PING"); r.Str != "PONG" {
		t.Fatalf("PING after failed LOGOUT = %+v", r)
	}
}

func TestServer_Renew(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)
	token := c.login("alice")

	if r := c.do("RENEW", token, "600"); r.Type != resp.TypeInteger || r.Int != 600 {
		t.Fatalf("RENEW = %+v, want 600", r)
	}
	env.clock.Advance(100 * time.Second)
	if r := c.do("TTL", token); r.Int != 500 {
		t.Fatalf("TTL = %+v, want 500", r)
	}
	if r := c.do("RENEW", token); r.Int != 30 {
		t.Fatalf("RENEW default = %+v, want 30", r)
	}

	env.clock.Advance(31 * time.Second)
	expectError(t, c.do("RENEW", token, "600"), "AUTHFAIL", domain.ErrSessionExpired.Code)
	expectError(t, c.do("RENEW", token, "x"), "ERR", domain.ErrInvalidArgument.Code)
}

func TestServer_ProtocolErrorsClose(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown verb", "FROB x\r\n"},
		{"bad bulk header", "*2\r\n$x\r\n"},
		{"array too long", "*100000\r\n"},
		{"null bulk", "*1\r\n$-1\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := startServer(t, Config{}, nil)
			c := dial(t, env.srv)

			if _, err := io.WriteString(c.conn, tt.raw); err != nil {
				t.Fatalf("write: %v", err)
			}
			r, err := resp.ReadReply(c.br)
			if err != nil {
				t.Fatalf("ReadReply() error = %v", err)
			}
			expectError(t, r, "ERR", domain.ErrProtocol.Code)
			c.expectClosed()
			waitFor(t, "connection removal", func() bool { return env.srv.ActiveConns() == 0 })
		})
	}
}

func TestServer_Quit(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)

	if r := c.do("QUIT"); r.Str != "OK" {
		t.Fatalf("QUIT = %+v", r)
	}
	c.expectClosed()
}

func TestServer_PeerCloseRemovesConnection(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)
	c.do("PING")

	if got := env.srv.ActiveConns(); got != 1 {
		t.Fatalf("ActiveConns() = %d, want 1", got)
	}
	_ = c.conn.Close()
	waitFor(t, "connection removal", func() bool { return env.srv.ActiveConns() == 0 })
}

func TestServer_IdleTimeout(t *testing.T) {
	env := startServer(t, Config{IdleTimeout: 50 * time.Millisecond}, nil)
	c := dial(t, env.srv)
	c.do("PING")

	c.expectClosed()
	waitFor(t, "connection removal", func() bool { return env.srv.ActiveConns() == 0 })
}

func TestServer_ConnectionLimit(t *testing.T) {
	env := startServer(t, Config{MaxConns: 2}, nil)

	first := dial(t, env.srv)
	second := dial(t, env.srv)
	first.do("PING")
	second.do("PING")

	third := dial(t, env.srv)
	r, err := resp.ReadReply(third.br)
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	expectError(t, r, "ERR", domain.ErrConnectionLimit.Code)
	third.expectClosed()

	_ = first.conn.Close()
	waitFor(t, "slot release", func() bool { return env.srv.ActiveConns() == 1 })

	fourth := dial(t, env.srv)
	if r := fourth.do("PING"); r.Str != "PONG" {
		t.Fatalf("PING after slot release = %+v", r)
	}
}

func TestServer_ShutdownDrainsConnections(t *testing.T) {
	env := startServer(t, Config{DrainTimeout: 3 * time.Second}, nil)

	const n = 100
	clients := make([]*testClient, n)
	for i := range clients {
		clients[i] = dial(t, env.srv)
		clients[i].do("PING")
	}
	waitFor(t, "all connections registered", func() bool { return env.srv.ActiveConns() == n })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Shutdown() took %v, want idle connections drained before the timeout", elapsed)
	}
	if got := env.srv.ActiveConns(); got != 0 {
		t.Fatalf("ActiveConns() after Shutdown = %d, want 0", got)
	}
	for _, c := range clients {
		c.expectClosed()
	}

	if _, err := net.DialTimeout("tcp", env.srv.Addr().String(), time.Second); err == nil {
		t.Error("Dial() after Shutdown succeeded, want refused")
	}
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestServer_ShutdownInterruptsPartialCommand(t *testing.T) {
	env := startServer(t, Config{}, nil)
	c := dial(t, env.srv)
	c.do("PING")

	// Half a command: the handler is blocked under the per-command timeout.
	if _, err := io.WriteString(c.conn, "*2\r\n$4\r\nPING\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := env.srv.ActiveConns(); got != 0 {
		t.Fatalf("ActiveConns() = %d, want 0", got)
	}
}

func TestServer_ShutdownForcesStuckConnections(t *testing.T) {
	const drain = 300 * time.Millisecond
	env := startServer(t, Config{DrainTimeout: drain, WriteTimeout: time.Minute}, nil)

	conn, err := net.Dial("tcp", env.srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Pipeline large PINGs without reading any reply until the server
	// blocks flushing its responses.
	var cmd strings.Builder
	bw := bufio.NewWriter(&cmd)
	if err := resp.WriteCommand(bw, "PING", strings.Repeat("x", resp.MaxBulkLen)); err != nil {
		t.Fatalf("WriteCommand() error = %v", err)
	}
	_ = bw.Flush()
	payload := []byte(cmd.String())
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := conn.Write(payload); err != nil {
				return
			}
		}
	}()

	waitFor(t, "connection registered", func() bool { return env.srv.ActiveConns() == 1 })
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > drain+2*time.Second {
		t.Errorf("Shutdown() took %v, want about %v", elapsed, drain)
	}
	if got := env.srv.ActiveConns(); got != 0 {
		t.Fatalf("ActiveConns() after Shutdown = %d, want 0", got)
	}
}

func TestServer_ShutdownWithoutConnections(t *testing.T) {
	env := startServer(t, Config{}, nil)
	if err := env.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Fatal("Start() after Shutdown succeeded")
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := New(Config{ListenAddr: "127.0.0.1:0"}, nil, nil, nil, nil)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if srv.Addr() != nil {
		t.Error("Addr() should be nil before Start")
	}
}

func TestServer_StartErrors(t *testing.T) {
	env := startServer(t, Config{}, nil)

	if err := env.srv.Start(context.Background()); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	clash := New(Config{ListenAddr: env.srv.Addr().String()}, env.sessions, nil, nil, nil)
	err := clash.Start(context.Background())
	if !errors.Is(err, domain.ErrBind) {
		t.Fatalf("Start() on a used address error = %v, want ErrBind", err)
	}
	if clash.Addr() != nil {
		t.Error("Addr() should be nil after a bind failure")
	}
}

func TestServer_IndependentInstances(t *testing.T) {
	a := startServer(t, Config{}, nil)
	b := startServer(t, Config{}, nil)

	token := dial(t, a.srv).login("alice")
	expectError(t, dial(t, b.srv).do("AUTH", token), "AUTHFAIL", domain.ErrTokenInvalid.Code)
}
