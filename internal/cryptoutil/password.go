// Package cryptoutil implements the security floor shared by every component
// of the auth service: password hashing, random token generation, digesting,
// and ES256 signing.
package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the default iteration count for new hashes. Existing
	// hashes carry their own iteration count and keep working if this changes.
	PBKDF2Iterations = 150000
	saltSize         = 32
	derivedKeySize   = 32
)

// HashPassword derives a self-describing PBKDF2-SHA256 record from a
// plaintext password. The returned string has the form
// "pbkdf2:<iterations>:<salt-hex>:<hash-hex>" and is safe to store directly.
func HashPassword(password string) (string, error) {
	salt, err := RandBytes(saltSize)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: generate salt: %w", err)
	}
	return hashWithSalt(password, salt, PBKDF2Iterations), nil
}

func hashWithSalt(password string, salt []byte, iterations int) string {
	derived := pbkdf2.Key([]byte(password), salt, iterations, derivedKeySize, sha256.New)
	return fmt.Sprintf("pbkdf2:%d:%s:%s", iterations, hex.EncodeToString(salt), hex.EncodeToString(derived))
}

// VerifyPassword reports whether password matches the stored PBKDF2 record.
// It never panics or returns an error for a malformed record; a malformed or
// mismatched record simply verifies false.
func VerifyPassword(password, stored string) bool {
	iterations, salt, want, err := parseStoredHash(stored)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return constantTimeEqual(got, want)
}

func parseStoredHash(stored string) (iterations int, salt, hash []byte, err error) {
	parts := strings.Split(stored, ":")
	if len(parts) != 4 || parts[0] != "pbkdf2" {
		return 0, nil, nil, errors.New("cryptoutil: malformed password record")
	}
	iterations, err = strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, errors.New("cryptoutil: malformed iteration count")
	}
	salt, err = hex.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, errors.New("cryptoutil: malformed salt")
	}
	hash, err = hex.DecodeString(parts[3])
	if err != nil {
		return 0, nil, nil, errors.New("cryptoutil: malformed hash")
	}
	return iterations, salt, hash, nil
}

// DummyHashCost performs a PBKDF2 derivation of the same cost as
// HashPassword/VerifyPassword without comparing anything. Callers use this to
// equalize response timing between "user not found" and "bad password" so
// that account enumeration cannot be inferred from latency.
func DummyHashCost(password string) {
	salt := make([]byte, saltSize)
	_ = pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, derivedKeySize, sha256.New)
}

// constantTimeEqual reports whether a and b contain the same bytes without
// leaking timing information about the position of the first mismatch. A
// length mismatch is checked first (length itself is not secret) and then a
// fold-XOR comparison runs over the full length.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
