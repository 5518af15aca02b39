package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yndnr/tokgate/internal/protocol/resp"
)

// Doer sends one command. *client.Client implements it.
type Doer interface {
	Do(ctx context.Context, args ...string) (resp.Reply, error)
}

// REPL reads commands from in and prints replies to out.
type REPL struct {
	in      io.Reader
	out     io.Writer
	doer    Doer
	prompt  string
	history *History
}

// New creates a REPL. history may be nil.
func New(in io.Reader, out io.Writer, doer Doer, history *History) *REPL {
	if history == nil {
		history = NewHistory("")
	}
	return &REPL{
		in:      in,
		out:     out,
		doer:    doer,
		prompt:  "tokgate> ",
		history: history,
	}
}

// Run loops until EOF, exit, QUIT or a broken connection. Error replies are
// printed and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	sc := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, r.prompt)
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		args, err := Split(line)
		if err != nil {
			r.history.Add(line)
			fmt.Fprintf(r.out, "(error) %v\n", err)
			continue
		}
		r.history.Add(historyLine(line, args))

		switch strings.ToLower(args[0]) {
		case "exit":
			return nil
		case "help":
			r.printHelp(args[1:])
			continue
		case "history":
			for i, e := range r.history.Entries() {
				fmt.Fprintf(r.out, "%4d  %s\n", i+1, e)
			}
			continue
		}

		reply, err := r.doer.Do(ctx, args...)
		var re *resp.ReplyError
		if err != nil && !errors.As(err, &re) {
			return err
		}
		fmt.Fprintln(r.out, FormatReply(reply))
		if strings.EqualFold(args[0], "QUIT") {
			return nil
		}
	}
}

func (r *REPL) printHelp(args []string) {
	if len(args) > 0 {
		if u, ok := usage[strings.ToUpper(args[0])]; ok {
			fmt.Fprintln(r.out, u)
			return
		}
		fmt.Fprintf(r.out, "unknown command %q\n", args[0])
		return
	}
	for _, name := range Commands {
		fmt.Fprintln(r.out, usage[name])
	}
	fmt.Fprintln(r.out, "help [command] | history | exit")
}

// historyLine hides the password of a LOGIN line.
func historyLine(line string, args []string) string {
	if len(args) < 3 || !strings.EqualFold(args[0], "LOGIN") {
		return line
	}
	masked := append([]string{args[0], args[1], "****"}, args[3:]...)
	return strings.Join(masked, " ")
}

// FormatReply renders a reply like a RESP console.
func FormatReply(r resp.Reply) string {
	switch r.Type {
	case resp.TypeSimple:
		return r.Str
	case resp.TypeError:
		return "(error) " + r.Str
	case resp.TypeInteger:
		return "(integer) " + strconv.FormatInt(r.Int, 10)
	case resp.TypeBulk:
		if r.Null {
			return "(nil)"
		}
		return strconv.Quote(r.Str)
	case resp.TypeArray:
		if r.Null {
			return "(nil)"
		}
		if len(r.Array) == 0 {
			return "(empty array)"
		}
		lines := make([]string, len(r.Array))
		for i, el := range r.Array {
			lines[i] = strconv.Itoa(i+1) + ") " + FormatReply(el)
		}
		return strings.Join(lines, "\n")
	default:
		return ""
	}
}

// Split splits a line into words. Double quotes group words and support
// backslash escapes.
func Split(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		inWord  bool
	)
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case inQuote && ch == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case ch == '"':
			inQuote = !inQuote
			inWord = true
		case !inQuote && (ch == ' ' || ch == '\t'):
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(ch)
			inWord = true
		}
	}
	if inQuote {
		return nil, errors.New("unbalanced quotes")
	}
	if inWord {
		args = append(args, cur.String())
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}
