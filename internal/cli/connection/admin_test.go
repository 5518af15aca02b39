package connection

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewAdminClient(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:7380", "http://127.0.0.1:7380"},
		{"http://admin:7380/", "http://admin:7380"},
		{"https://admin.example.com", "https://admin.example.com"},
	}
	for _, tt := range tests {
		if got := NewAdminClient(tt.addr, time.Second).BaseURL(); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func newAdmin(t *testing.T) *AdminClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "tokgate-cli/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`{"status":"ok","version":"1.2.3"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable","error":"store down"}`))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sessions":7,"connections":3}`))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tokgate_connections_active 3\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewAdminClient(srv.URL, 2*time.Second)
}

func TestAdminClient_Health(t *testing.T) {
	h, err := newAdmin(t).Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h["status"] != "ok" || h["version"] != "1.2.3" {
		t.Errorf("Health() = %v", h)
	}
}

func TestAdminClient_ReadyFailure(t *testing.T) {
	err := newAdmin(t).Ready(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store down") {
		t.Fatalf("Ready() error = %v, want store down", err)
	}
}

func TestAdminClient_Stats(t *testing.T) {
	st, err := newAdmin(t).Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Sessions != 7 || st.Connections != 3 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestAdminClient_Metrics(t *testing.T) {
	var buf bytes.Buffer
	if err := newAdmin(t).Metrics(context.Background(), &buf); err != nil {
		t.Fatalf("Metrics() error = %v", err)
	}
	if buf.String() != "tokgate_connections_active 3\n" {
		t.Errorf("Metrics() = %q", buf.String())
	}
}

func TestAdminClient_NotFound(t *testing.T) {
	c := newAdmin(t)
	c.baseURL += "/nope"
	if _, err := c.Stats(context.Background()); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("Stats() error = %v, want 404", err)
	}
}
