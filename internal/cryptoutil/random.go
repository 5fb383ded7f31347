package cryptoutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// RandBytes returns n cryptographically random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	if got != n {
		return nil, errors.New("cryptoutil: short read from CSPRNG")
	}
	return b, nil
}

// NewHexToken returns a lowercase-hex random token of the given byte length.
// Used for refresh tokens, authorization codes, reset tokens, and OAuth
// state values.
func NewHexToken(byteLen int) (string, error) {
	b, err := RandBytes(byteLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewBase64URLToken returns an unpadded base64url random token of the given
// byte length (used for PKCE code verifiers).
func NewBase64URLToken(byteLen int) (string, error) {
	b, err := RandBytes(byteLen)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
