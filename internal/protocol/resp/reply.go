package resp

import (
	"bufio"
	"strconv"
	"strings"
)

// WriteSimpleString writes "+s\r\n". CR and LF in s are replaced by spaces.
func WriteSimpleString(w *bufio.Writer, s string) error {
	_, err := w.WriteString("+" + sanitizeLine(s) + "\r\n")
	return err
}

// WriteError writes "-s\r\n". CR and LF in s are replaced by spaces.
func WriteError(w *bufio.Writer, s string) error {
	_, err := w.WriteString("-" + sanitizeLine(s) + "\r\n")
	return err
}

// WriteInteger writes ":n\r\n".
func WriteInteger(w *bufio.Writer, n int64) error {
	_, err := w.WriteString(":" + strconv.FormatInt(n, 10) + "\r\n")
	return err
}

// WriteNullBulk writes "$-1\r\n".
func WriteNullBulk(w *bufio.Writer) error {
	_, err := w.WriteString("$-1\r\n")
	return err
}

// WriteBulk writes b as a bulk string; nil is written as the null bulk.
func WriteBulk(w *bufio.Writer, b []byte) error {
	if b == nil {
		return WriteNullBulk(w)
	}
	if _, err := w.WriteString("$" + strconv.Itoa(len(b)) + "\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

// WriteBulkString writes s as a bulk string.
func WriteBulkString(w *bufio.Writer, s string) error {
	return WriteBulk(w, []byte(s))
}

// WriteArrayHeader writes "*n\r\n".
func WriteArrayHeader(w *bufio.Writer, n int) error {
	_, err := w.WriteString("*" + strconv.Itoa(n) + "\r\n")
	return err
}

// WriteCommand writes a request as an array of bulk strings.
func WriteCommand(w *bufio.Writer, args ...string) error {
	if err := WriteArrayHeader(w, len(args)); err != nil {
		return err
	}
	for _, a := range args {
		if err := WriteBulkString(w, a); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
