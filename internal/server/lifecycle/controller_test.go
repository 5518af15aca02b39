package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokgate/internal/client"
	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/core/service"
	"github.com/yndnr/tokgate/internal/server/config"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/storage/storagetest"
	"github.com/yndnr/tokgate/internal/telemetry/metric"
)

const testPassword = "wonderland"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.ServerConfig {
	t.Helper()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.DrainTimeout = 2 * time.Second
	cfg.Admin.Addr = "127.0.0.1:0"
	cfg.Auth.Users = map[string]string{"alice": hash}
	return cfg
}

// trackingFactory opens stores through OpenStore and counts closes.
type trackingFactory struct {
	opened atomic.Int32
	closed atomic.Int32
}

type trackedStore struct {
	storage.SessionStore
	f *trackingFactory
}

func (s trackedStore) Close() error {
	s.f.closed.Add(1)
	return s.SessionStore.Close()
}

func (f *trackingFactory) open(ctx context.Context, cfg config.StorageSection, opts storage.Options, reg prometheus.Registerer) (storage.SessionStore, error) {
	st, err := OpenStore(ctx, cfg, opts, reg)
	if err != nil {
		return nil, err
	}
	f.opened.Add(1)
	return trackedStore{SessionStore: st, f: f}, nil
}

func stop(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Stop() error = %v", err)
	}
}

func dial(t *testing.T, c *Controller) *client.Client {
	t.Helper()
	cl, err := client.Dial(context.Background(), c.Addr().String(), client.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestController_StartStop(t *testing.T) {
	f := &trackingFactory{}
	c := New(testConfig(t), quietLogger(), metric.New(), WithStoreFactory(f.open))
	ctx := context.Background()

	if c.Running() || c.Addr() != nil || c.Sessions() != nil {
		t.Fatal("controller should start stopped")
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stop(t, c) })

	if !c.Running() {
		t.Error("Running() = false after Start")
	}
	if err := c.Start(ctx); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	cl := dial(t, c)
	if _, err := cl.Login(ctx, "alice", testPassword, 0); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if n, err := c.Sessions().Count(ctx); err != nil || n != 1 {
		t.Errorf("Count() = %d, %v; want 1", n, err)
	}

	res, err := http.Get("http://" + c.AdminAddr().String() + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", res.StatusCode)
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.Running() || c.Addr() != nil || c.AdminAddr() != nil {
		t.Error("controller should report stopped")
	}
	if f.closed.Load() != 1 {
		t.Errorf("store closed %d times, want 1", f.closed.Load())
	}
	if err := c.Stop(ctx); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrNotRunning", err)
	}

	// The open client connection was drained by Stop.
	if err := cl.Ping(ctx); err == nil {
		t.Error("Ping() after Stop should fail")
	}
}

func TestController_AdminDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Addr = ""
	c := New(cfg, quietLogger(), nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stop(t, c) })

	if c.AdminAddr() != nil {
		t.Errorf("AdminAddr() = %v, want nil", c.AdminAddr())
	}
}

func TestController_RestartFreshStore(t *testing.T) {
	f := &trackingFactory{}
	c := New(testConfig(t), quietLogger(), metric.New(), WithStoreFactory(f.open))
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stop(t, c) })

	token, err := dial(t, c).Login(ctx, "alice", testPassword, 0)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := c.Restart(ctx); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if f.opened.Load() != 2 || f.closed.Load() != 1 {
		t.Errorf("opened/closed = %d/%d, want 2/1", f.opened.Load(), f.closed.Load())
	}

	ttl, err := dial(t, c).TTL(ctx, token)
	if err != nil || ttl != -2 {
		t.Errorf("TTL() after restart = %d, %v; want -2", ttl, err)
	}
}

func TestController_RestartWhenStopped(t *testing.T) {
	c := New(testConfig(t), quietLogger(), nil)
	if err := c.Restart(context.Background()); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Restart() error = %v, want ErrNotRunning", err)
	}
}

func TestController_BindErrorRollsBack(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	tests := []struct {
		name   string
		mutate func(*config.ServerConfig)
	}{
		{"listener", func(c *config.ServerConfig) { c.Server.ListenAddr = ln.Addr().String() }},
		{"admin", func(c *config.ServerConfig) { c.Admin.Addr = ln.Addr().String() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			f := &trackingFactory{}
			c := New(cfg, quietLogger(), metric.New(), WithStoreFactory(f.open))

			if err := c.Start(context.Background()); !errors.Is(err, domain.ErrBind) {
				t.Fatalf("Start() error = %v, want ErrBind", err)
			}
			if c.Running() {
				t.Error("Running() = true after failed Start")
			}
			if f.opened.Load() != 1 || f.closed.Load() != 1 {
				t.Errorf("opened/closed = %d/%d, want 1/1", f.opened.Load(), f.closed.Load())
			}
		})
	}
}

func TestController_StoreError(t *testing.T) {
	failing := func(context.Context, config.StorageSection, storage.Options, prometheus.Registerer) (storage.SessionStore, error) {
		return nil, errors.New("disk on fire")
	}
	c := New(testConfig(t), quietLogger(), nil, WithStoreFactory(failing))
	if err := c.Start(context.Background()); !errors.Is(err, domain.ErrStorageError) {
		t.Fatalf("Start() error = %v, want ErrStorageError", err)
	}
	if c.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestController_InvalidUsers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Users = map[string]string{"alice": "plaintext"}
	c := New(cfg, quietLogger(), nil)
	if err := c.Start(context.Background()); err == nil {
		stop(t, c)
		t.Fatal("Start() with invalid hash error = nil")
	}
}

func TestController_Sweeper(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.SweepInterval = 10 * time.Millisecond
	clock := storagetest.NewClock()
	c := New(cfg, quietLogger(), nil, WithClock(clock.Now))
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stop(t, c) })

	if _, err := dial(t, c).Login(ctx, "alice", testPassword, 5*time.Second); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	clock.Advance(6 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := c.Sessions().Count(ctx)
		if err == nil && n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired session not swept: count = %d, err = %v", n, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.StorageSection
		wantErr bool
	}{
		{"memory", config.StorageSection{Backend: config.BackendMemory}, false},
		{"default", config.StorageSection{}, false},
		{"sqlite", config.StorageSection{Backend: config.BackendSQLite, SQLitePath: filepath.Join(dir, "sessions.db")}, false},
		{"badger", config.StorageSection{Backend: config.BackendBadger, DataDir: filepath.Join(dir, "badger")}, false},
		{"badger without dir", config.StorageSection{Backend: config.BackendBadger}, true},
		{"unknown", config.StorageSection{Backend: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			st, err := OpenStore(context.Background(), tt.cfg, storage.Options{Logger: quietLogger()}, reg)
			if tt.wantErr {
				if err == nil {
					st.Close()
					t.Fatal("OpenStore() error = nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenStore() error = %v", err)
			}
			if n, err := st.Count(context.Background()); err != nil || n != 0 {
				t.Errorf("Count() = %d, %v; want 0", n, err)
			}
			if err := st.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}
