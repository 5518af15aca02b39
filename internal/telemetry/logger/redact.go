package logger

import (
	"log/slog"
	"regexp"
	"strings"
)

// tokenPattern matches plaintext session tokens anywhere in a string.
var tokenPattern = regexp.MustCompile(`tgtk_[A-Za-z0-9_-]*`)

const tokenPrefix = "tgtk_"

// Attribute keys containing these words are redacted entirely.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"credential",
	"authorization",
	"private_key",
}

const redactedValue = "***REDACTED***"

// redactSensitive is the ReplaceAttr hook. slog calls it for every
// non-group attribute, including those nested in groups. Error values are
// flattened to their text so tokens inside error messages are masked too.
func redactSensitive(a slog.Attr) slog.Attr {
	var s string
	switch a.Value.Kind() {
	case slog.KindString:
		s = a.Value.String()
	case slog.KindAny:
		err, ok := a.Value.Any().(error)
		if !ok {
			return a
		}
		s = err.Error()
	default:
		return a
	}

	if s != "" && IsSensitiveKey(a.Key) {
		return slog.String(a.Key, redactedValue)
	}
	if strings.Contains(s, tokenPrefix) {
		return slog.String(a.Key, RedactString(s))
	}
	return a
}

func maskToken(tok string) string {
	body := tok[len(tokenPrefix):]
	if len(body) <= 6 {
		return tokenPrefix + "***"
	}
	return tokenPrefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks every session token in s.
func RedactString(s string) string {
	if !strings.Contains(s, tokenPrefix) {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, maskToken)
}

// IsSensitiveKey reports whether a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}
