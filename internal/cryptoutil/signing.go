package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// SigningKey wraps the single ES256 keypair the service holds at a time, and
// the key-identifier downstream verifiers use to pick it out of the JWKS
// document.
type SigningKey struct {
	KeyID      string
	PrivateKey *ecdsa.PrivateKey
}

// ParseES256PrivateKeyPEM imports a base64-wrapped PEM-encoded PKCS#8 EC
// private key, as delivered through the JWT_PRIVATE_KEY environment
// variable. The signing key is imported once per process lifetime and
// reused for every subsequent Sign call.
func ParseES256PrivateKeyPEM(b64PEM, keyID string) (*SigningKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64PEM)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decode JWT_PRIVATE_KEY base64: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("cryptoutil: JWT_PRIVATE_KEY is not valid PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: parse PKCS8 private key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("cryptoutil: JWT_PRIVATE_KEY is not an EC private key")
	}
	if ecKey.Curve != elliptic.P256() {
		return nil, errors.New("cryptoutil: JWT_PRIVATE_KEY is not on curve P-256")
	}
	return &SigningKey{KeyID: keyID, PrivateKey: ecKey}, nil
}

// SignCompactJWS signs payload with ES256 and the given kid, returning a
// three-segment compact JWS string. The header is exactly
// {"alg":"ES256","typ":"JWT","kid":<kid>}; go-jose produces the raw r||s
// signature (64 bytes) that JWS ES256 requires.
func (k *SigningKey) SignCompactJWS(payload []byte) (string, error) {
	signingKey := jose.SigningKey{Algorithm: jose.ES256, Key: k.PrivateKey}
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", k.KeyID)
	signer, err := jose.NewSigner(signingKey, opts)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new ES256 signer: %w", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: sign payload: %w", err)
	}
	return sig.CompactSerialize()
}

// PublicJWK returns the discovery-document representation of the public half
// of the signing key: {kty, crv, alg, use, kid, x, y}.
func (k *SigningKey) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.PrivateKey.Public(),
		KeyID:     k.KeyID,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}
}

// VerifyCompactJWS verifies a compact JWS against the given public key and
// returns the raw payload bytes. Used internally (e.g. by the memberships
// endpoint) to check a Bearer access token.
func VerifyCompactJWS(compact string, pub *ecdsa.PublicKey) ([]byte, error) {
	sig, err := jose.ParseSigned(compact, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: parse compact JWS: %w", err)
	}
	if len(sig.Signatures) != 1 {
		return nil, errors.New("cryptoutil: expected exactly one JWS signature")
	}
	payload, err := sig.Verify(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: signature verification failed: %w", err)
	}
	return payload, nil
}
