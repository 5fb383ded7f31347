package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/credentials"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/jwtkernel"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/redirectvalidator"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/tokenkernel"
)

const validRedirect = "https://shop.centerpiece.app/auth/callback"

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

type harness struct {
	flows       *Flows
	credentials *credentials.Flows
	store       *store.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := store.Open(context.Background(), "sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	validator := redirectvalidator.New("production", nil)
	tokens := tokenkernel.New(conn, tokenkernel.Config{}, nil)
	jwt := jwtkernel.New(generateTestSigningKey(t), jwtkernel.Config{Issuer: "https://auth.centerpiece.shop"}, nil)
	creds := credentials.New(conn, validator, tokens, nil, nil)

	return &harness{
		flows:       New(conn, tokens, jwt, nil),
		credentials: creds,
		store:       conn,
	}
}

func (h *harness) registerUser(t *testing.T, email string) credentials.AuthResult {
	t.Helper()
	result, err := h.credentials.Register(context.Background(), credentials.RegisterParams{
		Email: email, Password: "password1", ConfirmPassword: "password1", RedirectURL: validRedirect,
	})
	require.NoError(t, err)
	return result
}

func TestExchangeMintsStorefrontAccessToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.registerUser(t, "alice@example.com")

	result, err := h.flows.Exchange(ctx, ExchangeParams{
		Code: reg.AuthCode, TenantID: reg.TenantID, RedirectOrigin: reg.RedirectOrigin,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.Equal(t, "Bearer", result.TokenType)
	require.Greater(t, result.ExpiresIn, 0)
}

func TestExchangeRejectsReplayedCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.registerUser(t, "bob@example.com")

	params := ExchangeParams{Code: reg.AuthCode, TenantID: reg.TenantID, RedirectOrigin: reg.RedirectOrigin}
	_, err := h.flows.Exchange(ctx, params)
	require.NoError(t, err)

	_, err = h.flows.Exchange(ctx, params)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeRejectsTenantMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.registerUser(t, "carl@example.com")

	_, err := h.flows.Exchange(ctx, ExchangeParams{
		Code: reg.AuthCode, TenantID: "some-other-tenant", RedirectOrigin: reg.RedirectOrigin,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefreshRotatesAndMintsCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.registerUser(t, "dana@example.com")

	result, err := h.flows.Refresh(ctx, RefreshParams{
		RefreshToken: reg.RefreshToken, TenantID: reg.TenantID, RedirectOrigin: reg.RedirectOrigin,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Refresh.Plaintext)
	require.NotEmpty(t, result.Code)

	// The old refresh token is now spent; presenting it again must fail
	// (the family was already rotated past it).
	_, err = h.flows.Refresh(ctx, RefreshParams{
		RefreshToken: reg.RefreshToken, TenantID: reg.TenantID, RedirectOrigin: reg.RedirectOrigin,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestLogoutRevokesOnlyThatFamily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.registerUser(t, "erin@example.com")

	require.NoError(t, h.flows.Logout(ctx, reg.RefreshToken))

	_, err := h.flows.Refresh(ctx, RefreshParams{
		RefreshToken: reg.RefreshToken, TenantID: reg.TenantID, RedirectOrigin: reg.RedirectOrigin,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestLogoutAllRevokesEveryFamily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.registerUser(t, "frank@example.com")

	second, err := h.credentials.Login(ctx, credentials.LoginParams{
		Email: "frank@example.com", Password: "password1", RedirectURL: validRedirect,
	})
	require.NoError(t, err)

	require.NoError(t, h.flows.LogoutAll(ctx, reg.RefreshToken))

	_, err = h.flows.Refresh(ctx, RefreshParams{
		RefreshToken: second.RefreshToken, TenantID: second.TenantID, RedirectOrigin: second.RedirectOrigin,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestMembershipsListsAfterVerifyingBearerToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.registerUser(t, "gina@example.com")

	exchange, err := h.flows.Exchange(ctx, ExchangeParams{
		Code: reg.AuthCode, TenantID: reg.TenantID, RedirectOrigin: reg.RedirectOrigin,
	})
	require.NoError(t, err)

	memberships, err := h.flows.Memberships(ctx, exchange.AccessToken)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	require.Equal(t, reg.TenantID, memberships[0].TenantID)
	require.Equal(t, "customer", memberships[0].Role)
}

func TestMembershipsRejectsGarbageToken(t *testing.T) {
	h := newHarness(t)
	_, err := h.flows.Memberships(context.Background(), "not-a-jwt")
	require.Error(t, err)
}
