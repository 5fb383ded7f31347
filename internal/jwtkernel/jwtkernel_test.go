package jwtkernel

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

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
	key, err := cryptoutil.ParseES256PrivateKeyPEM(b64, "test-kid-1")
	require.NoError(t, err)
	return key
}

func TestIssueAndVerifyStorefrontToken(t *testing.T) {
	key := generateTestSigningKey(t)
	k := New(key, Config{Issuer: "https://auth.centerpiece.shop"}, nil)

	token, err := k.IssueStorefrontToken(StorefrontParams{UserID: "u1", Email: "a@example.com", Name: "A"})
	require.NoError(t, err)

	claims, err := k.Verify(token, AudienceStorefront)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "a@example.com", claims.Email)
	require.Equal(t, AudienceStorefront, claims.Audience)
	require.Nil(t, claims.PrimaryTenantID)
}

func TestIssueAndVerifyAdminToken(t *testing.T) {
	key := generateTestSigningKey(t)
	k := New(key, Config{Issuer: "https://auth.centerpiece.shop"}, nil)

	tenant := "t1"
	token, err := k.IssueAdminToken(AdminParams{
		UserID: "u1", Email: "a@example.com", Name: "A",
		JTI: "jti-1", PrimaryTenantID: &tenant, Roles: []string{"seller"},
	})
	require.NoError(t, err)

	claims, err := k.Verify(token, AudienceAdmin)
	require.NoError(t, err)
	require.Equal(t, "jti-1", claims.JTI)
	require.Equal(t, "t1", *claims.PrimaryTenantID)
	require.Equal(t, []string{"seller"}, claims.Roles)
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	key := generateTestSigningKey(t)
	k := New(key, Config{}, nil)

	token, err := k.IssueStorefrontToken(StorefrontParams{UserID: "u1", Email: "a@example.com"})
	require.NoError(t, err)

	_, err = k.Verify(token, AudienceAdmin)
	require.ErrorIs(t, err, ErrWrongAudience)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key := generateTestSigningKey(t)
	base := time.Now().UTC()
	tick := base
	clock := func() time.Time { return tick }
	k := New(key, Config{AccessTokenTTL: time.Second}, clock)

	token, err := k.IssueStorefrontToken(StorefrontParams{UserID: "u1", Email: "a@example.com"})
	require.NoError(t, err)

	tick = base.Add(2 * time.Second)
	_, err = k.Verify(token, AudienceStorefront)
	require.Error(t, err)
}

func TestJWKSDocumentHasStableETag(t *testing.T) {
	key := generateTestSigningKey(t)
	k := New(key, Config{}, nil)

	body1, etag1, err := k.JWKSDocument()
	require.NoError(t, err)
	body2, etag2, err := k.JWKSDocument()
	require.NoError(t, err)

	require.Equal(t, body1, body2)
	require.Equal(t, etag1, etag2)
	require.Contains(t, string(body1), "test-kid-1")
}
