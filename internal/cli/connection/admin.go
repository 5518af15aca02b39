package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/tokgate/internal/infra/buildinfo"
)

// AdminClient talks to the admin HTTP endpoint.
type AdminClient struct {
	baseURL string
	client  *http.Client
}

// NewAdminClient creates a client for addr, with or without a scheme.
func NewAdminClient(addr string, timeout time.Duration) *AdminClient {
	baseURL := strings.TrimSuffix(addr, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &AdminClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the endpoint URL.
func (c *AdminClient) BaseURL() string {
	return c.baseURL
}

// Health returns the /healthz document.
func (c *AdminClient) Health(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	return out, c.getJSON(ctx, "/healthz", &out)
}

// Ready returns nil when /readyz reports ready.
func (c *AdminClient) Ready(ctx context.Context) error {
	var out map[string]string
	return c.getJSON(ctx, "/readyz", &out)
}

// Stats is the /stats document.
type Stats struct {
	Sessions    int `json:"sessions"`
	Connections int `json:"connections"`
}

// Stats returns live session and connection counts.
func (c *AdminClient) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.getJSON(ctx, "/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics copies the Prometheus exposition to w.
func (c *AdminClient) Metrics(ctx context.Context, w io.Writer) error {
	resp, err := c.get(ctx, "/metrics")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *AdminClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "tokgate-cli/"+buildinfo.Version)
	return c.client.Do(req)
}

func (c *AdminClient) getJSON(ctx context.Context, path string, target any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// statusError reports a failed request, with the server's error text when
// the body carries one.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("request failed: %s", resp.Status)
}
