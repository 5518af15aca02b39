package domain

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/yndnr/tokgate/pkg/token"
)

const (
	// TokenPrefix is the prefix for session tokens.
	TokenPrefix = "tgtk_"

	// TokenHashPrefix is the prefix for token hashes.
	TokenHashPrefix = "tgth_"

	// TokenBodyLength is the Base64 RawURL length of 32 random bytes.
	TokenBodyLength = 43

	// TokenLength is the total token length (prefix + body).
	TokenLength = len(TokenPrefix) + TokenBodyLength

	// TokenHashLength is the total token hash length (prefix + hex SHA-256).
	TokenHashLength = len(TokenHashPrefix) + 64
)

// GenerateToken generates a session token and its hash.
//
// The plaintext is handed to the client exactly once. Only the hash is stored.
func GenerateToken() (plaintext, hash string, err error) {
	plaintext, err = token.GeneratePrefixed(TokenPrefix)
	if err != nil {
		return "", "", ErrInternalServer.WithCause(err)
	}
	return plaintext, HashToken(plaintext), nil
}

// HashToken computes the stored hash of a plaintext token.
func HashToken(plaintext string) string {
	return token.HashPrefixed(TokenHashPrefix, plaintext)
}

// ValidateTokenFormat checks that s looks like a token issued by GenerateToken.
func ValidateTokenFormat(s string) bool {
	if len(s) != TokenLength || !strings.HasPrefix(s, TokenPrefix) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s[len(TokenPrefix):])
	return err == nil
}

// ValidateTokenHashFormat checks the tgth_{hex} format.
func ValidateTokenHashFormat(h string) bool {
	if len(h) != TokenHashLength || !strings.HasPrefix(h, TokenHashPrefix) {
		return false
	}
	_, err := hex.DecodeString(h[len(TokenHashPrefix):])
	return err == nil
}

// MaskToken masks a token for logging: prefix, first and last three characters.
func MaskToken(s string) string {
	if !strings.HasPrefix(s, TokenPrefix) || len(s) < len(TokenPrefix)+7 {
		return "***REDACTED***"
	}
	body := s[len(TokenPrefix):]
	return TokenPrefix + body[:3] + "..." + body[len(body)-3:]
}
