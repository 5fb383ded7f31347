package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func generateTestSigningKey(t *testing.T) *SigningKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	b64 := base64.StdEncoding.EncodeToString(block)
	key, err := ParseES256PrivateKeyPEM(b64, "test-kid-1")
	require.NoError(t, err)
	return key
}

func TestSignAndVerifyJWS(t *testing.T) {
	key := generateTestSigningKey(t)
	payload := []byte(`{"sub":"user-1"}`)

	compact, err := key.SignCompactJWS(payload)
	require.NoError(t, err)

	got, err := VerifyCompactJWS(compact, &key.PrivateKey.PublicKey)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestVerifyCompactJWSRejectsTamperedPayload(t *testing.T) {
	key := generateTestSigningKey(t)
	compact, err := key.SignCompactJWS([]byte(`{"sub":"user-1"}`))
	require.NoError(t, err)

	tampered := compact[:len(compact)-4] + "abcd"
	_, err = VerifyCompactJWS(tampered, &key.PrivateKey.PublicKey)
	require.Error(t, err)
}

func TestPublicJWKFields(t *testing.T) {
	key := generateTestSigningKey(t)
	jwk := key.PublicJWK()
	require.Equal(t, "test-kid-1", jwk.KeyID)
	require.Equal(t, "ES256", jwk.Algorithm)
	require.Equal(t, "sig", jwk.Use)
}
