package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// DefaultLength is the default token length in bytes.
//
// 32 bytes gives 256 bits of entropy.
const DefaultLength = 32

// MinLength is the smallest accepted token length in bytes.
const MinLength = 16

// ErrLengthTooShort is returned when a caller asks for fewer than MinLength bytes.
var ErrLengthTooShort = errors.New("token: length below minimum")

// Generate generates a cryptographically secure random token.
func Generate() (string, error) {
	return GenerateWithLength(DefaultLength)
}

// GenerateWithLength generates a token with the specified byte length.
func GenerateWithLength(length int) (string, error) {
	if length < MinLength {
		return "", ErrLengthTooShort
	}
	b, err := GenerateBytes(length)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GeneratePrefixed generates a DefaultLength token and prepends prefix.
func GeneratePrefixed(prefix string) (string, error) {
	body, err := Generate()
	if err != nil {
		return "", err
	}
	return prefix + body, nil
}

// GenerateBytes generates random bytes.
func GenerateBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodedLength returns the Base64 RawURL length of a token of n bytes.
func EncodedLength(n int) int {
	return base64.RawURLEncoding.EncodedLen(n)
}
