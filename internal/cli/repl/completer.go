package repl

import (
	"sort"
	"strings"
)

// Commands lists the protocol verbs.
var Commands = []string{"AUTH", "DATA", "LOGIN", "LOGOUT", "PING", "QUIT", "RENEW", "TTL", "WHOAMI"}

var usage = map[string]string{
	"AUTH":   "AUTH <token>",
	"DATA":   "DATA <token> [payload]",
	"LOGIN":  "LOGIN <identity> <password> [TTL <seconds>]",
	"LOGOUT": "LOGOUT [token]",
	"PING":   "PING [message]",
	"QUIT":   "QUIT",
	"RENEW":  "RENEW <token> [seconds]",
	"TTL":    "TTL <token>",
	"WHOAMI": "WHOAMI",
}

// Complete returns the verbs and local commands starting with prefix,
// ignoring case.
func Complete(prefix string) []string {
	p := strings.ToUpper(prefix)
	var out []string
	for _, c := range Commands {
		if strings.HasPrefix(c, p) {
			out = append(out, c)
		}
	}
	for _, c := range []string{"exit", "help", "history"} {
		if strings.HasPrefix(c, strings.ToLower(prefix)) {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
