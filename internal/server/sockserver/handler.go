package sockserver

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/core/service"
	"github.com/yndnr/tokgate/internal/protocol/resp"
)

// Command outcomes used as metric labels.
const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeAuthFail = "authfail"
	outcomeProtocol = "protocol_error"
)

const verbUnknown = "UNKNOWN"

// ttlUnknown is the TTL reply for unknown or expired tokens.
const ttlUnknown = -2

// result describes how a command ended.
type result struct {
	verb    string
	outcome string
	close   bool
	reason  string
}

type handler struct {
	sessions *service.SessionService
	auth     *service.AuthService
	logger   *slog.Logger
}

func newHandler(sessions *service.SessionService, auth *service.AuthService, logger *slog.Logger) *handler {
	return &handler{
		sessions: sessions,
		auth:     auth,
		logger:   logger,
	}
}

// errorText formats err as "ERR <code> <message>". Errors without a code are
// reported as internal errors.
func errorText(err error) string {
	return "ERR " + codeText(err)
}

func authFailText(err error) string {
	return "AUTHFAIL " + codeText(err)
}

func codeText(err error) string {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		de = domain.ErrInternalServer
	}
	msg := de.Message
	if de.Details != "" {
		msg += ": " + de.Details
	}
	return de.Code + " " + msg
}

// isTokenError reports whether err means the presented token does not grant
// a session.
func isTokenError(err error) bool {
	return errors.Is(err, domain.ErrTokenMalformed) ||
		errors.Is(err, domain.ErrTokenInvalid) ||
		errors.Is(err, domain.ErrSessionExpired) ||
		errors.Is(err, domain.ErrAuthenticationFailed) ||
		errors.Is(err, domain.ErrNotAuthenticated)
}

// handle dispatches one command and buffers exactly one reply.
func (h *handler) handle(ctx context.Context, c *Conn, cmd *resp.Command) result {
	switch cmd.Name {
	case "PING":
		return h.handlePing(c, cmd)
	case "LOGIN":
		return h.handleLogin(ctx, c, cmd)
	case "AUTH":
		return h.handleAuth(ctx, c, cmd)
	case "WHOAMI":
		return h.handleWhoami(ctx, c, cmd)
	case "DATA":
		return h.handleData(ctx, c, cmd)
	case "TTL":
		return h.handleTTL(ctx, c, cmd)
	case "RENEW":
		return h.handleRenew(ctx, c, cmd)
	case "LOGOUT":
		return h.handleLogout(ctx, c, cmd)
	case "QUIT":
		c.setState(StateClosing)
		_ = resp.WriteSimpleString(c.bw, "OK")
		return result{verb: cmd.Name, outcome: outcomeOK, close: true, reason: "quit"}
	default:
		h.logger.Warn("unknown command", "conn_id", c.id, "remote_addr", c.remoteAddr, "command", cmd.Name)
		_ = resp.WriteError(c.bw, errorText(domain.ErrProtocol.WithDetails("unknown command '"+cmd.Name+"'")))
		return result{verb: verbUnknown, outcome: outcomeProtocol, close: true, reason: "protocol_error"}
	}
}

func (h *handler) ok(cmd *resp.Command) result {
	return result{verb: cmd.Name, outcome: outcomeOK}
}

// fail writes err as an -ERR reply; the connection stays open.
func (h *handler) fail(c *Conn, cmd *resp.Command, err error) result {
	_ = resp.WriteError(c.bw, errorText(err))
	return result{verb: cmd.Name, outcome: outcomeError}
}

// authFail writes err as an -AUTHFAIL reply; the connection stays open.
func (h *handler) authFail(c *Conn, cmd *resp.Command, err error) result {
	_ = resp.WriteError(c.bw, authFailText(err))
	return result{verb: cmd.Name, outcome: outcomeAuthFail}
}

// failSession routes token errors to -AUTHFAIL and the rest to -ERR.
func (h *handler) failSession(c *Conn, cmd *resp.Command, err error) result {
	if isTokenError(err) {
		return h.authFail(c, cmd, err)
	}
	if !domain.IsDomainError(err, "") {
		h.logger.Error("command failed", "conn_id", c.id, "command", cmd.Name, "error", err)
	}
	return h.fail(c, cmd, err)
}

func arityError(name string) error {
	return domain.ErrInvalidArgument.WithDetails("wrong number of arguments for '" + name + "'")
}

// parseSeconds parses a non-negative number of seconds.
func parseSeconds(b []byte) (time.Duration, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || n < 0 {
		return 0, domain.ErrInvalidArgument.WithDetails("value is not a non-negative integer")
	}
	if n > int64(time.Duration(1<<62)/time.Second) {
		return 0, domain.ErrInvalidArgument.WithDetails("value is out of range")
	}
	return time.Duration(n) * time.Second, nil
}

// PING [message]
func (h *handler) handlePing(c *Conn, cmd *resp.Command) result {
	switch len(cmd.Args) {
	case 0:
		_ = resp.WriteSimpleString(c.bw, "PONG")
	case 1:
		_ = resp.WriteBulk(c.bw, cmd.Args[0])
	default:
		return h.fail(c, cmd, arityError(cmd.Name))
	}
	return h.ok(cmd)
}

// LOGIN <identity> <password> [TTL <seconds>]
func (h *handler) handleLogin(ctx context.Context, c *Conn, cmd *resp.Command) result {
	if len(cmd.Args) != 2 && len(cmd.Args) != 4 {
		return h.fail(c, cmd, arityError(cmd.Name))
	}
	var ttl time.Duration
	if len(cmd.Args) == 4 {
		if !strings.EqualFold(cmd.Arg(2), "TTL") {
			return h.fail(c, cmd, domain.ErrInvalidArgument.WithDetails("expected TTL <seconds>"))
		}
		d, err := parseSeconds(cmd.Args[3])
		if err != nil {
			return h.fail(c, cmd, err)
		}
		ttl = d
	}

	prev := c.State()
	c.setState(StateAuthenticating)
	token, sess, err := h.auth.Login(ctx, service.LoginRequest{
		Identity:   cmd.Arg(0),
		Password:   cmd.Arg(1),
		TTL:        ttl,
		RemoteAddr: c.remoteAddr,
	})
	if err != nil {
		c.setState(prev)
		if errors.Is(err, domain.ErrAuthenticationFailed) {
			return h.authFail(c, cmd, err)
		}
		return h.failSession(c, cmd, err)
	}

	c.bind(token, sess.Identity)
	_ = resp.WriteBulkString(c.bw, token)
	return h.ok(cmd)
}

// AUTH <token>
func (h *handler) handleAuth(ctx context.Context, c *Conn, cmd *resp.Command) result {
	if len(cmd.Args) != 1 {
		return h.fail(c, cmd, arityError(cmd.Name))
	}
	token := cmd.Arg(0)

	prev := c.State()
	c.setState(StateAuthenticating)
	sess, err := h.sessions.Validate(ctx, token)
	if err != nil {
		c.setState(prev)
		if isTokenError(err) {
			h.logger.Info("auth failed", "conn_id", c.id, "remote_addr", c.remoteAddr, "error", err)
		}
		return h.failSession(c, cmd, err)
	}

	c.bind(token, sess.Identity)
	h.logger.Info("auth succeeded", "conn_id", c.id, "identity", sess.Identity, "session_id", sess.ID)
	_ = resp.WriteSimpleString(c.bw, "OK")
	return h.ok(cmd)
}

// WHOAMI
func (h *handler) handleWhoami(ctx context.Context, c *Conn, cmd *resp.Command) result {
	if len(cmd.Args) != 0 {
		return h.fail(c, cmd, arityError(cmd.Name))
	}
	if c.token == "" {
		return h.authFail(c, cmd, domain.ErrNotAuthenticated)
	}
	sess, err := h.sessions.Validate(ctx, c.token)
	if err != nil {
		if isTokenError(err) {
			c.unbind()
		}
		return h.failSession(c, cmd, err)
	}
	_ = resp.WriteBulkString(c.bw, sess.Identity)
	return h.ok(cmd)
}

// DATA <token> [payload]
func (h *handler) handleData(ctx context.Context, c *Conn, cmd *resp.Command) result {
	if len(cmd.Args) != 1 && len(cmd.Args) != 2 {
		return h.fail(c, cmd, arityError(cmd.Name))
	}
	if _, err := h.sessions.Validate(ctx, cmd.Arg(0)); err != nil {
		return h.failSession(c, cmd, err)
	}
	if len(cmd.Args) == 1 {
		_ = resp.WriteSimpleString(c.bw, "OK")
	} else {
		_ = resp.WriteBulk(c.bw, cmd.Args[1])
	}
	return h.ok(cmd)
}

// TTL <token>
func (h *handler) handleTTL(ctx context.Context, c *Conn, cmd *resp.Command) result {
	if len(cmd.Args) != 1 {
		return h.fail(c, cmd, arityError(cmd.Name))
	}
	remaining, err := h.sessions.TTL(ctx, cmd.Arg(0))
	switch {
	case err == nil:
		_ = resp.WriteInteger(c.bw, int64(remaining/time.Second))
	case isTokenError(err):
		_ = resp.WriteInteger(c.bw, ttlUnknown)
	default:
		return h.failSession(c, cmd, err)
	}
	return h.ok(cmd)
}

// RENEW <token> [seconds]
func (h *handler) handleRenew(ctx context.Context, c *Conn, cmd *resp.Command) result {
	if len(cmd.Args) != 1 && len(cmd.Args) != 2 {
		return h.fail(c, cmd, arityError(cmd.Name))
	}
	var ttl time.Duration
	if len(cmd.Args) == 2 {
		d, err := parseSeconds(cmd.Args[1])
		if err != nil {
			return h.fail(c, cmd, err)
		}
		ttl = d
	}
	expiresAt, err := h.sessions.Renew(ctx, cmd.Arg(0), ttl)
	if err != nil {
		return h.failSession(c, cmd, err)
	}
	_ = resp.WriteInteger(c.bw, int64(expiresAt.Sub(h.sessions.Now())/time.Second))
	return h.ok(cmd)
}

// LOGOUT [token]
func (h *handler) handleLogout(ctx context.Context, c *Conn, cmd *resp.Command) result {
	var token string
	switch len(cmd.Args) {
	case 0:
		if c.token == "" {
			return h.authFail(c, cmd, domain.ErrNotAuthenticated)
		}
		token = c.token
	case 1:
		token = cmd.Arg(0)
	default:
		return h.fail(c, cmd, arityError(cmd.Name))
	}

	if err := h.sessions.Revoke(ctx, token); err != nil {
		return h.failSession(c, cmd, err)
	}
	if token == c.token {
		c.unbind()
	}
	_ = resp.WriteSimpleString(c.bw, "OK")
	return h.ok(cmd)
}
