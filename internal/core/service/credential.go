package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/yndnr/tokgate/internal/core/domain"
)

// Argon2id parameters used by HashPassword.
const (
	argon2Memory  = 16 * 1024 // KiB
	argon2Time    = 2
	argon2Threads = 2
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// CredentialVerifier checks an identity's password.
type CredentialVerifier interface {
	// Verify returns nil when password is correct for identity and
	// domain.ErrAuthenticationFailed otherwise.
	Verify(ctx context.Context, identity, password string) error
}

// StaticVerifier verifies passwords against a fixed identity -> hash table.
//
// Hashes are either Argon2id in PHC form ($argon2id$v=19$m=..,t=..,p=..$salt$key)
// or bcrypt ($2a$, $2b$, $2y$).
type StaticVerifier struct {
	users map[string]string
	// dummy is checked for unknown identities so they cost the same as known ones.
	dummy string
}

var _ CredentialVerifier = (*StaticVerifier)(nil)

// NewStaticVerifier validates every hash and builds the verifier.
func NewStaticVerifier(users map[string]string) (*StaticVerifier, error) {
	table := make(map[string]string, len(users))
	for identity, hash := range users {
		if !isArgon2Hash(hash) && !isBcryptHash(hash) {
			return nil, fmt.Errorf("user %q: unsupported password hash format", identity)
		}
		table[identity] = hash
	}
	dummy, err := HashPassword("tokgate-unknown-identity")
	if err != nil {
		return nil, err
	}
	return &StaticVerifier{users: table, dummy: dummy}, nil
}

// Verify implements CredentialVerifier.
func (v *StaticVerifier) Verify(_ context.Context, identity, password string) error {
	hash, ok := v.users[identity]
	if !ok {
		_ = verifyPasswordHash(password, v.dummy)
		return domain.ErrAuthenticationFailed
	}
	if !verifyPasswordHash(password, hash) {
		return domain.ErrAuthenticationFailed
	}
	return nil
}

// HashPassword returns an Argon2id hash of password in PHC string form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func isArgon2Hash(hash string) bool {
	return strings.HasPrefix(hash, "$argon2id$")
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func verifyPasswordHash(password, hash string) bool {
	switch {
	case isArgon2Hash(hash):
		return verifyArgon2Hash(password, hash)
	case isBcryptHash(hash):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
	return false
}

// verifyArgon2Hash checks password against $argon2id$v=19$m=M,t=T,p=P$salt$key.
func verifyArgon2Hash(password, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || threads == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
