package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/yndnr/tokgate/internal/protocol/resp"
)

// DefaultTimeout bounds one request when the context has no deadline.
const DefaultTimeout = 10 * time.Second

// ErrClosed is returned after Close or after the server closed the connection.
var ErrClosed = errors.New("client: connection closed")

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout used when ctx has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client is a connection to a tokgate server.
type Client struct {
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	closed bool
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newClient(conn, opts...), nil
}

func newClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		conn:    conn,
		br:      bufio.NewReader(conn),
		bw:      bufio.NewWriter(conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends one command and returns the reply. An error reply is returned as
// the error, with the reply still filled in.
func (c *Client) Do(ctx context.Context, args ...string) (resp.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return resp.Reply{}, ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return resp.Reply{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := resp.WriteCommand(c.bw, args...); err != nil {
		return resp.Reply{}, c.broken(ctx, err)
	}
	if err := c.bw.Flush(); err != nil {
		return resp.Reply{}, c.broken(ctx, err)
	}
	reply, err := resp.ReadReply(c.br)
	if err != nil {
		return resp.Reply{}, c.broken(ctx, err)
	}
	return reply, reply.Err()
}

// broken closes the connection after a transport failure. The stream may be
// out of sync, so it cannot be reused.
func (c *Client) broken(ctx context.Context, err error) error {
	c.closed = true
	_ = c.conn.Close()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close closes the connection without sending QUIT.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, "PING")
	return err
}

// Login authenticates with a password and returns the session token. The
// connection is bound to the new session. ttl 0 uses the server default.
func (c *Client) Login(ctx context.Context, identity, password string, ttl time.Duration) (string, error) {
	args := []string{"LOGIN", identity, password}
	if ttl > 0 {
		args = append(args, "TTL", seconds(ttl))
	}
	r, err := c.Do(ctx, args...)
	if err != nil {
		return "", err
	}
	return r.Str, nil
}

// Auth binds the connection to an existing session.
func (c *Client) Auth(ctx context.Context, token string) error {
	_, err := c.Do(ctx, "AUTH", token)
	return err
}

// Whoami returns the identity bound to the connection.
func (c *Client) Whoami(ctx context.Context) (string, error) {
	r, err := c.Do(ctx, "WHOAMI")
	if err != nil {
		return "", err
	}
	return r.Str, nil
}

// Data performs an authenticated request with token. The server echoes
// payload; with a nil payload it replies OK and Data returns nil.
func (c *Client) Data(ctx context.Context, token string, payload []byte) ([]byte, error) {
	args := []string{"DATA", token}
	if payload != nil {
		args = append(args, string(payload))
	}
	r, err := c.Do(ctx, args...)
	if err != nil {
		return nil, err
	}
	if r.Type != resp.TypeBulk {
		return nil, nil
	}
	return []byte(r.Str), nil
}

// TTL returns the remaining lifetime of token in seconds, or -2 when the
// token does not grant a session.
func (c *Client) TTL(ctx context.Context, token string) (int64, error) {
	r, err := c.Do(ctx, "TTL", token)
	if err != nil {
		return 0, err
	}
	return r.Int, nil
}

// Renew extends the session of token and returns the new TTL in seconds.
// ttl 0 uses the server default.
func (c *Client) Renew(ctx context.Context, token string, ttl time.Duration) (int64, error) {
	args := []string{"RENEW", token}
	if ttl > 0 {
		args = append(args, seconds(ttl))
	}
	r, err := c.Do(ctx, args...)
	if err != nil {
		return 0, err
	}
	return r.Int, nil
}

// Logout revokes token. An empty token revokes the session bound to the
// connection.
func (c *Client) Logout(ctx context.Context, token string) error {
	args := []string{"LOGOUT"}
	if token != "" {
		args = append(args, token)
	}
	_, err := c.Do(ctx, args...)
	return err
}

// Quit asks the server to close the connection, then closes it locally.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.Do(ctx, "QUIT")
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

func seconds(d time.Duration) string {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return strconv.FormatInt(s, 10)
}
