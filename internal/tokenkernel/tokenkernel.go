// Package tokenkernel mints and consumes the two bearer credentials built on
// internal/store's raw rows: refresh tokens (rotating, family-tracked) and
// authorization codes (single-use, PKCE-bound).
package tokenkernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
)

// Default TTLs used when Config leaves a field at its zero value.
const (
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultAuthCodeTTL     = 60 * time.Second
)

const (
	refreshTokenByteLen = 32
	authCodeByteLen     = 32
)

// ErrRedirectMismatch is returned when an authorization code is presented
// alongside a redirect origin different from the one it was minted for.
var ErrRedirectMismatch = errors.New("tokenkernel: redirect origin does not match authorization code")

// ErrPKCEFailed is returned when a presented code_verifier does not match the
// code_challenge recorded at authorization-code mint time.
var ErrPKCEFailed = errors.New("tokenkernel: pkce verification failed")

// ErrAuthCodeExpired is returned when a consumed code's expiry has passed,
// even though the row still existed (the GC sweep hadn't reached it yet).
var ErrAuthCodeExpired = errors.New("tokenkernel: authorization code expired")

// Config holds the TTLs this kernel enforces. Zero values fall back to the
// package defaults above.
type Config struct {
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
}

func (c Config) refreshTTL() time.Duration {
	if c.RefreshTokenTTL <= 0 {
		return DefaultRefreshTokenTTL
	}
	return c.RefreshTokenTTL
}

func (c Config) authCodeTTL() time.Duration {
	if c.AuthCodeTTL <= 0 {
		return DefaultAuthCodeTTL
	}
	return c.AuthCodeTTL
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Kernel is the token-issuance/consumption surface handed to the session and
// credential-flow layers.
type Kernel struct {
	store  *store.Conn
	config Config
	now    Clock
}

// New constructs a Kernel. now defaults to time.Now when nil.
func New(conn *store.Conn, config Config, now Clock) *Kernel {
	if now == nil {
		now = time.Now
	}
	return &Kernel{store: conn, config: config, now: now}
}

// IssuedRefreshToken is a freshly minted or rotated refresh token: the
// plaintext value (returned to the client exactly once) plus its row.
type IssuedRefreshToken struct {
	Plaintext string
	Record    store.RefreshToken
}

// IssueRefreshFamily mints the first refresh token of a brand-new rotation
// family, called at the end of a successful authentication.
func (k *Kernel) IssueRefreshFamily(ctx context.Context, userID, ip, userAgent string) (IssuedRefreshToken, error) {
	plaintext, err := cryptoutil.NewHexToken(refreshTokenByteLen)
	if err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("tokenkernel: generate refresh token: %w", err)
	}

	now := k.now().UTC()
	record := store.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: cryptoutil.HashTokenHex(plaintext),
		FamilyID:  uuid.NewString(),
		ExpiresAt: now.Add(k.config.refreshTTL()),
		CreatedAt: now,
		IP:        ip,
		UserAgent: userAgent,
	}
	if err := k.store.CreateRefreshToken(ctx, record); err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("tokenkernel: create refresh token: %w", err)
	}
	return IssuedRefreshToken{Plaintext: plaintext, Record: record}, nil
}

// Rotate exchanges a presented refresh token for a new one in the same
// family. Reuse of an already-rotated token
// surfaces store.ErrRefreshTokenReused (the whole family is revoked by the
// time this returns); callers must map that to a session_expired response
// and force the client to re-authenticate.
func (k *Kernel) Rotate(ctx context.Context, presented, ip, userAgent string) (IssuedRefreshToken, error) {
	plaintext, err := cryptoutil.NewHexToken(refreshTokenByteLen)
	if err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("tokenkernel: generate refresh token: %w", err)
	}

	now := k.now().UTC()
	next := store.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: cryptoutil.HashTokenHex(plaintext),
		ExpiresAt: now.Add(k.config.refreshTTL()),
		CreatedAt: now,
		IP:        ip,
		UserAgent: userAgent,
	}

	rotated, err := k.store.RotateRefreshToken(ctx, cryptoutil.HashTokenHex(presented), next, now)
	if err != nil {
		return IssuedRefreshToken{}, err
	}
	return IssuedRefreshToken{Plaintext: plaintext, Record: rotated}, nil
}

// RevokeFamily revokes every token descended from the one presented, used by
// single-session logout.
func (k *Kernel) RevokeFamily(ctx context.Context, presented string) error {
	existing, err := k.store.GetRefreshTokenByHash(ctx, cryptoutil.HashTokenHex(presented))
	if err != nil {
		return err
	}
	return k.store.RevokeRefreshTokenFamily(ctx, existing.FamilyID, k.now().UTC())
}

// RevokeAllForUser revokes every refresh token a user holds across every
// family, used by logout-all and by the mandatory session wipe on password
// reset.
func (k *Kernel) RevokeAllForUser(ctx context.Context, userID string) error {
	return k.store.RevokeAllRefreshTokensForUser(ctx, userID, k.now().UTC())
}

// AuthCodeParams describes the authorization code to mint.
type AuthCodeParams struct {
	UserID         string
	TenantID       string
	RedirectOrigin string
	Audience       store.Audience
	PKCEChallenge  string // empty if the client did not use PKCE
	PKCEMethod     string
}

// IssueAuthCode mints a short-lived single-use authorization code.
func (k *Kernel) IssueAuthCode(ctx context.Context, p AuthCodeParams) (string, error) {
	plaintext, err := cryptoutil.NewHexToken(authCodeByteLen)
	if err != nil {
		return "", fmt.Errorf("tokenkernel: generate auth code: %w", err)
	}

	row := store.AuthCode{
		CodeHash:       cryptoutil.HashTokenHex(plaintext),
		UserID:         p.UserID,
		TenantID:       p.TenantID,
		RedirectOrigin: p.RedirectOrigin,
		Audience:       p.Audience,
		ExpiresAt:      k.now().UTC().Add(k.config.authCodeTTL()),
	}
	if p.PKCEChallenge != "" {
		row.PKCEChallenge = &p.PKCEChallenge
		row.PKCEMethod = &p.PKCEMethod
	}
	if err := k.store.CreateAuthCode(ctx, row); err != nil {
		return "", fmt.Errorf("tokenkernel: create auth code: %w", err)
	}
	return plaintext, nil
}

// ConsumeAuthCodeParams is what the /api/token exchange presents back.
type ConsumeAuthCodeParams struct {
	Code           string
	TenantID       string
	RedirectOrigin string
	PKCEVerifier   string
}

// ConsumeAuthCode validates and single-use-consumes an authorization code:
// it must exist, not be expired, match the tenant and redirect origin it was
// minted for, and (if PKCE was used at mint time) its verifier must
// reproduce the recorded challenge. The row is deleted before any of these
// checks run (store.ConsumeAuthCode's DELETE ... RETURNING), so a failed
// check here still burns the code — it can never be retried, regardless of
// which check fails.
func (k *Kernel) ConsumeAuthCode(ctx context.Context, p ConsumeAuthCodeParams) (store.AuthCode, error) {
	row, err := k.store.ConsumeAuthCode(ctx, cryptoutil.HashTokenHex(p.Code))
	if err != nil {
		return store.AuthCode{}, err
	}

	if k.now().UTC().After(row.ExpiresAt) {
		return store.AuthCode{}, ErrAuthCodeExpired
	}
	if row.RedirectOrigin != p.RedirectOrigin {
		return store.AuthCode{}, ErrRedirectMismatch
	}
	if row.TenantID != p.TenantID {
		return store.AuthCode{}, ErrRedirectMismatch
	}
	if row.PKCEChallenge != nil {
		if !cryptoutil.VerifyPKCE(p.PKCEVerifier, *row.PKCEChallenge) {
			return store.AuthCode{}, ErrPKCEFailed
		}
	}
	return row, nil
}
