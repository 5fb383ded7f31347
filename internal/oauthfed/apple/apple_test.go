package apple

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	jwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
)

func generateTestSigningKey(t *testing.T) *cryptoutil.SigningKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	b64 := base64.StdEncoding.EncodeToString(block)
	key, err := cryptoutil.ParseES256PrivateKeyPEM(b64, "apple-kid-1")
	require.NoError(t, err)
	return key
}

func TestConfiguredRequiresAllFourFields(t *testing.T) {
	key := generateTestSigningKey(t)
	require.False(t, New(Config{}, nil).Configured())
	require.False(t, New(Config{ClientID: "id", TeamID: "team", KeyID: "kid"}, nil).Configured())
	require.True(t, New(Config{ClientID: "id", TeamID: "team", KeyID: "kid", SigningKey: key}, nil).Configured())
}

func TestMintClientSecretProducesValidClaims(t *testing.T) {
	key := generateTestSigningKey(t)
	a := New(Config{ClientID: "com.example.app", TeamID: "TEAM123", KeyID: "kid-1", SigningKey: key}, nil)

	secret, err := a.mintClientSecret()
	require.NoError(t, err)

	tok, err := jwt.ParseSigned(secret, []jwt.SignatureAlgorithm{jwt.ES256})
	require.NoError(t, err)

	var claims clientSecretClaims
	require.NoError(t, tok.UnsafeClaimsWithoutVerification(&claims))
	require.Equal(t, "TEAM123", claims.Issuer)
	require.Equal(t, issuer, claims.Audience)
	require.Equal(t, "com.example.app", claims.Subject)
	require.Greater(t, claims.ExpiresAt, claims.IssuedAt)
}
