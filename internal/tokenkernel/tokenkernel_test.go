package tokenkernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
)

func newTestKernel(t *testing.T) (*Kernel, *store.Conn) {
	t.Helper()
	conn, err := store.Open(context.Background(), "sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn, Config{}, nil), conn
}

func TestIssueAndRotateRefreshFamily(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	issued, err := k.IssueRefreshFamily(ctx, "u1", "1.2.3.4", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, issued.Plaintext)

	rotated, err := k.Rotate(ctx, issued.Plaintext, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	require.Equal(t, issued.Record.FamilyID, rotated.Record.FamilyID)
	require.NotEqual(t, issued.Plaintext, rotated.Plaintext)

	// Replaying the already-rotated token must be detected as reuse.
	_, err = k.Rotate(ctx, issued.Plaintext, "1.2.3.4", "test-agent")
	require.ErrorIs(t, err, store.ErrRefreshTokenReused)
}

func TestIssueAndConsumeAuthCodeWithPKCE(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	verifier, err := cryptoutil.NewBase64URLToken(32)
	require.NoError(t, err)
	challenge := cryptoutil.S256Challenge(verifier)

	code, err := k.IssueAuthCode(ctx, AuthCodeParams{
		UserID: "u1", TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app",
		Audience: store.AudienceStorefront, PKCEChallenge: challenge, PKCEMethod: "S256",
	})
	require.NoError(t, err)

	row, err := k.ConsumeAuthCode(ctx, ConsumeAuthCodeParams{
		Code: code, TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app", PKCEVerifier: verifier,
	})
	require.NoError(t, err)
	require.Equal(t, "u1", row.UserID)

	// Single use: replay fails even with the correct verifier.
	_, err = k.ConsumeAuthCode(ctx, ConsumeAuthCodeParams{
		Code: code, TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app", PKCEVerifier: verifier,
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeAuthCodeRejectsWrongPKCEVerifier(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	verifier, err := cryptoutil.NewBase64URLToken(32)
	require.NoError(t, err)
	challenge := cryptoutil.S256Challenge(verifier)

	code, err := k.IssueAuthCode(ctx, AuthCodeParams{
		UserID: "u1", TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app",
		Audience: store.AudienceStorefront, PKCEChallenge: challenge, PKCEMethod: "S256",
	})
	require.NoError(t, err)

	_, err = k.ConsumeAuthCode(ctx, ConsumeAuthCodeParams{
		Code: code, TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app", PKCEVerifier: "wrong-verifier",
	})
	require.ErrorIs(t, err, ErrPKCEFailed)
}

func TestConsumeAuthCodeRejectsRedirectMismatch(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	code, err := k.IssueAuthCode(ctx, AuthCodeParams{
		UserID: "u1", TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app",
		Audience: store.AudienceStorefront,
	})
	require.NoError(t, err)

	_, err = k.ConsumeAuthCode(ctx, ConsumeAuthCodeParams{
		Code: code, TenantID: "t1", RedirectOrigin: "https://attacker.example.com",
	})
	require.ErrorIs(t, err, ErrRedirectMismatch)
}

func TestConsumeAuthCodeRejectsTenantMismatch(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	code, err := k.IssueAuthCode(ctx, AuthCodeParams{
		UserID: "u1", TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app",
		Audience: store.AudienceStorefront,
	})
	require.NoError(t, err)

	_, err = k.ConsumeAuthCode(ctx, ConsumeAuthCodeParams{
		Code: code, TenantID: "t2", RedirectOrigin: "https://shop.centerpiece.app",
	})
	require.ErrorIs(t, err, ErrRedirectMismatch)
}

func TestConsumeAuthCodeRejectsMissingTenantID(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	code, err := k.IssueAuthCode(ctx, AuthCodeParams{
		UserID: "u1", TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app",
		Audience: store.AudienceStorefront,
	})
	require.NoError(t, err)

	_, err = k.ConsumeAuthCode(ctx, ConsumeAuthCodeParams{
		Code: code, RedirectOrigin: "https://shop.centerpiece.app",
	})
	require.ErrorIs(t, err, ErrRedirectMismatch)
}

func TestConsumeAuthCodeRejectsExpired(t *testing.T) {
	base := time.Now().UTC()
	tick := base
	clock := func() time.Time { return tick }

	conn, err := store.Open(context.Background(), "sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	k := New(conn, Config{AuthCodeTTL: time.Second}, clock)
	ctx := context.Background()

	code, err := k.IssueAuthCode(ctx, AuthCodeParams{
		UserID: "u1", TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app",
		Audience: store.AudienceStorefront,
	})
	require.NoError(t, err)

	tick = base.Add(2 * time.Second)
	_, err = k.ConsumeAuthCode(ctx, ConsumeAuthCodeParams{
		Code: code, TenantID: "t1", RedirectOrigin: "https://shop.centerpiece.app",
	})
	require.ErrorIs(t, err, ErrAuthCodeExpired)
}
