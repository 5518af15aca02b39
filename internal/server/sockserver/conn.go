package sockserver

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the protocol state of a connection.
type State int32

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one client connection. Everything except the drain flag is owned
// by the handler goroutine.
type Conn struct {
	id         string
	remoteAddr string
	openedAt   time.Time

	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer

	state atomic.Int32

	// Bound session, set by LOGIN and AUTH.
	token    string
	identity string

	mu       sync.Mutex
	draining bool

	closed atomic.Bool
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		id:         uuid.NewString(),
		remoteAddr: c.RemoteAddr().String(),
		openedAt:   time.Now(),
		netConn:    c,
		br:         bufio.NewReader(c),
		bw:         bufio.NewWriter(c),
	}
}

// ID returns the connection identifier used in logs.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// State returns the current protocol state.
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// Identity returns the identity bound to the connection, if any.
func (c *Conn) Identity() string { return c.identity }

func (c *Conn) bind(token, identity string) {
	c.token = token
	c.identity = identity
	c.setState(StateAuthenticated)
}

func (c *Conn) unbind() {
	c.token = ""
	c.identity = ""
	c.setState(StateConnected)
}

// armRead sets the read deadline unless the connection is draining.
// It reports false when the handler should stop.
func (c *Conn) armRead(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return false
	}
	return c.netConn.SetReadDeadline(time.Now().Add(timeout)) == nil
}

// drain marks the connection and wakes a blocked read.
func (c *Conn) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return
	}
	c.draining = true
	_ = c.netConn.SetReadDeadline(time.Now())
}

// Draining reports whether shutdown has asked the connection to stop.
func (c *Conn) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// flush writes buffered replies under the write timeout.
func (c *Conn) flush(timeout time.Duration) error {
	if err := c.netConn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.bw.Flush()
}

// Close closes the socket once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.setState(StateClosed)
	return c.netConn.Close()
}
