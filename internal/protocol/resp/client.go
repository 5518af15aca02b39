package resp

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Reply types.
const (
	TypeSimple  = '+'
	TypeError   = '-'
	TypeInteger = ':'
	TypeBulk    = '$'
	TypeArray   = '*'
)

// Reply is a decoded server reply.
type Reply struct {
	Type  byte
	Str   string
	Int   int64
	Null  bool
	Array []Reply
}

// ReplyError is a RESP error reply.
type ReplyError struct {
	// Kind is the first word, e.g. "ERR" or "AUTHFAIL".
	Kind string
	// Code is the tokgate error code when present, e.g. "TG-PROT-4000".
	Code string
	Msg  string
}

func (e *ReplyError) Error() string {
	return e.Msg
}

// Err returns the reply as a *ReplyError when it is an error reply, nil otherwise.
func (r Reply) Err() error {
	if r.Type != TypeError {
		return nil
	}
	return parseReplyError(r.Str)
}

func parseReplyError(s string) *ReplyError {
	e := &ReplyError{Msg: s}
	fields := strings.Fields(s)
	if len(fields) > 0 {
		e.Kind = fields[0]
	}
	if len(fields) > 1 && strings.HasPrefix(fields[1], "TG-") {
		e.Code = fields[1]
	}
	return e
}

// ReadReply reads one reply.
func ReadReply(r *bufio.Reader) (Reply, error) {
	line, err := readLine(r, MaxBulkLen)
	if err != nil {
		return Reply{}, err
	}
	if line == "" {
		return Reply{}, fmt.Errorf("%w: empty reply line", ErrProtocol)
	}

	t, body := line[0], line[1:]
	switch t {
	case TypeSimple, TypeError:
		return Reply{Type: t, Str: body}, nil
	case TypeInteger:
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: invalid integer %q", ErrProtocol, body)
		}
		return Reply{Type: t, Int: n}, nil
	case TypeBulk:
		n, err := strconv.Atoi(body)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: invalid bulk length %q", ErrProtocol, body)
		}
		if n < 0 {
			return Reply{Type: t, Null: true}, nil
		}
		if n > MaxBulkLen {
			return Reply{}, fmt.Errorf("%w: bulk length %d exceeds limit %d", ErrLimitExceeded, n, MaxBulkLen)
		}
		b, err := readBulkBody(r, n)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: t, Str: string(b)}, nil
	case TypeArray:
		n, err := strconv.Atoi(body)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: invalid array length %q", ErrProtocol, body)
		}
		if n < 0 {
			return Reply{Type: t, Null: true}, nil
		}
		if n > MaxArrayLen {
			return Reply{}, fmt.Errorf("%w: array length %d exceeds limit %d", ErrLimitExceeded, n, MaxArrayLen)
		}
		out := make([]Reply, 0, n)
		for i := 0; i < n; i++ {
			el, err := ReadReply(r)
			if err != nil {
				return Reply{}, err
			}
			out = append(out, el)
		}
		return Reply{Type: t, Array: out}, nil
	default:
		return Reply{}, fmt.Errorf("%w: unknown reply type %q", ErrProtocol, t)
	}
}
