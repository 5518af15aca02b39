package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Protocol limits.
const (
	// MaxArrayLen limits the number of elements in a request array.
	MaxArrayLen = 64

	// MaxBulkLen limits the size of a single bulk string (64KB).
	MaxBulkLen = 64 * 1024

	// MaxInlineLen limits inline command line length (4KB).
	MaxInlineLen = 4 * 1024

	maxHeaderLen = 32
)

var (
	// ErrProtocol reports malformed framing.
	ErrProtocol = errors.New("resp: protocol error")

	// ErrLimitExceeded reports a frame larger than the protocol limits.
	ErrLimitExceeded = errors.New("resp: limit exceeded")
)

// IsProtocolError reports whether err is a framing error, as opposed to an
// IO error on the underlying reader.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol) || errors.Is(err, ErrLimitExceeded)
}

// Command is one decoded request.
type Command struct {
	// Name is the upper-cased verb.
	Name string
	// Args are the arguments following the verb.
	Args [][]byte
}

// Arg returns argument i as a string, or "" when absent.
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return string(c.Args[i])
}

// ReadCommand reads one request. It returns (nil, nil) for an empty request
// (blank inline line or zero-length array), which callers should skip.
func ReadCommand(r *bufio.Reader) (*Command, error) {
	b, err := r.Peek(1)
	if err != nil {
		return nil, err
	}

	var parts [][]byte
	if b[0] == '*' {
		parts, err = readArray(r)
	} else {
		parts, err = readInline(r)
	}
	if err != nil || len(parts) == 0 {
		return nil, err
	}
	if len(parts[0]) == 0 {
		return nil, fmt.Errorf("%w: empty command name", ErrProtocol)
	}
	return &Command{
		Name: normalizeName(parts[0]),
		Args: parts[1:],
	}, nil
}

func readInline(r *bufio.Reader) ([][]byte, error) {
	line, err := readLine(r, MaxInlineLen)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	out := make([][]byte, 0, len(fields))
	for _, f := range fields {
		out = append(out, []byte(f))
	}
	return out, nil
}

func readArray(r *bufio.Reader) ([][]byte, error) {
	n, err := readHeader(r, '*')
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if n > MaxArrayLen {
		return nil, fmt.Errorf("%w: array length %d exceeds limit %d", ErrLimitExceeded, n, MaxArrayLen)
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		arg, err := readBulk(r)
		if err != nil {
			return nil, err
		}
		out = append(out, arg)
	}
	return out, nil
}

func readBulk(r *bufio.Reader) ([]byte, error) {
	n, err := readHeader(r, '$')
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: null bulk in request", ErrProtocol)
	}
	if n > MaxBulkLen {
		return nil, fmt.Errorf("%w: bulk length %d exceeds limit %d", ErrLimitExceeded, n, MaxBulkLen)
	}
	return readBulkBody(r, n)
}

func readBulkBody(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
	}
	return buf[:n], nil
}

// readHeader reads a "<prefix><int>\r\n" line.
func readHeader(r *bufio.Reader, prefix byte) (int, error) {
	line, err := readLine(r, maxHeaderLen)
	if err != nil {
		return 0, err
	}
	if len(line) < 2 || line[0] != prefix {
		return 0, fmt.Errorf("%w: expected %q header", ErrProtocol, prefix)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid length %q", ErrProtocol, line[1:])
	}
	return n, nil
}

func readLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		buf = append(buf, frag...)
		if len(buf) > maxLen+2 {
			return "", fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, maxLen)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return "", err
	}

	if !bytes.HasSuffix(buf, []byte("\r\n")) {
		return "", fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	return string(buf[:len(buf)-2]), nil
}

func normalizeName(b []byte) string {
	if bytes.ContainsAny(b, "abcdefghijklmnopqrstuvwxyz") {
		return strings.ToUpper(string(b))
	}
	return string(b)
}
