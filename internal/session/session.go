// Package session implements the server-to-server token exchange and
// browser-facing refresh/logout flows, sitting on top of
// internal/tokenkernel (refresh rotation, authorization codes) and
// internal/jwtkernel (access-token signing). Refresh rotates the presented
// token and chains through a fresh short-lived authorization code rather
// than minting a new access token in place, so the browser never holds an
// access token directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/jwtkernel"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/tokenkernel"
)

// ErrInvalidGrant is returned by Exchange and Refresh for any rejection at
// the token or JWT kernel layer. Callers must not leak which specific check
// failed: token-exchange errors are generic.
var ErrInvalidGrant = errors.New("session: invalid or expired grant")

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Flows wires the token and JWT kernels into the session-exchange surface.
type Flows struct {
	Store  *store.Conn
	Tokens *tokenkernel.Kernel
	JWT    *jwtkernel.Kernel
	now    Clock
}

// New constructs a Flows. now defaults to time.Now when nil.
func New(conn *store.Conn, tokens *tokenkernel.Kernel, jwt *jwtkernel.Kernel, now Clock) *Flows {
	if now == nil {
		now = time.Now
	}
	return &Flows{Store: conn, Tokens: tokens, JWT: jwt, now: now}
}

// ExchangeParams is the body of POST /api/token.
type ExchangeParams struct {
	Code           string
	TenantID       string
	RedirectOrigin string
	PKCEVerifier   string
}

// ExchangeResult is the 200 response body of POST /api/token.
type ExchangeResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
}

// Exchange implements POST /api/token: consumes an authorization code and
// signs the access token the code's audience calls for. Any rejection
// collapses to ErrInvalidGrant, mapped by the HTTP layer to a 400.
func (f *Flows) Exchange(ctx context.Context, p ExchangeParams) (ExchangeResult, error) {
	row, err := f.Tokens.ConsumeAuthCode(ctx, tokenkernel.ConsumeAuthCodeParams{
		Code: p.Code, TenantID: p.TenantID, RedirectOrigin: p.RedirectOrigin, PKCEVerifier: p.PKCEVerifier,
	})
	if err != nil {
		return ExchangeResult{}, ErrInvalidGrant
	}

	accessToken, err := f.signAccessToken(ctx, row)
	if err != nil {
		return ExchangeResult{}, ErrInvalidGrant
	}

	return ExchangeResult{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   f.JWT.AccessTokenTTLSeconds(),
	}, nil
}

func (f *Flows) signAccessToken(ctx context.Context, row store.AuthCode) (string, error) {
	user, err := f.Store.GetUserByID(ctx, row.UserID)
	if err != nil {
		return "", fmt.Errorf("session: load user: %w", err)
	}

	if row.Audience == store.AudienceAdmin {
		memberships, err := f.Store.ListMembershipsAtTenant(ctx, user.ID, row.TenantID)
		if err != nil {
			return "", fmt.Errorf("session: list memberships: %w", err)
		}
		roles := make([]string, 0, len(memberships))
		for _, m := range memberships {
			roles = append(roles, string(m.Role))
		}

		var primaryTenantID *string
		if primary, err := f.Store.OldestNonCustomerMembership(ctx, user.ID); err == nil {
			primaryTenantID = &primary.TenantID
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("session: oldest non-customer membership: %w", err)
		}

		return f.JWT.IssueAdminToken(jwtkernel.AdminParams{
			UserID: user.ID, Email: user.Email, Name: user.Name,
			JTI: uuid.NewString(), PrimaryTenantID: primaryTenantID, Roles: roles,
		})
	}

	return f.JWT.IssueStorefrontToken(jwtkernel.StorefrontParams{
		UserID: user.ID, Email: user.Email, Name: user.Name,
	})
}

// RefreshParams is the input to Refresh, assembled from the cp_refresh
// cookie and the redirect query parameter.
type RefreshParams struct {
	RefreshToken   string
	TenantID       string
	RedirectOrigin string
	Audience       store.Audience
	IP             string
	UserAgent      string
}

// RefreshResult carries what GET /api/refresh needs to mint the rotated
// cookie and the follow-up redirect.
type RefreshResult struct {
	Refresh tokenkernel.IssuedRefreshToken
	Code    string
}

// Refresh implements the rotation half of GET /api/refresh: rotates the
// presented refresh token and mints a fresh authorization code
// bound to the same user. Any rejection (including reuse detection, which
// has already revoked the whole family by the time this returns) collapses
// to ErrInvalidGrant; the HTTP layer must clear the refresh cookie regardless
// of which case occurred.
func (f *Flows) Refresh(ctx context.Context, p RefreshParams) (RefreshResult, error) {
	rotated, err := f.Tokens.Rotate(ctx, p.RefreshToken, p.IP, p.UserAgent)
	if err != nil {
		return RefreshResult{}, ErrInvalidGrant
	}

	audience := p.Audience
	if audience == "" {
		audience = store.AudienceStorefront
	}
	code, err := f.Tokens.IssueAuthCode(ctx, tokenkernel.AuthCodeParams{
		UserID: rotated.Record.UserID, TenantID: p.TenantID, RedirectOrigin: p.RedirectOrigin, Audience: audience,
	})
	if err != nil {
		return RefreshResult{}, ErrInvalidGrant
	}

	return RefreshResult{Refresh: rotated, Code: code}, nil
}

// Logout implements POST /api/logout: revokes the single family the
// presented refresh token belongs to.
func (f *Flows) Logout(ctx context.Context, refreshToken string) error {
	return f.Tokens.RevokeFamily(ctx, refreshToken)
}

// LogoutAll implements POST /api/logout-all: revokes every refresh token the
// presented token's owner holds, across every family.
func (f *Flows) LogoutAll(ctx context.Context, refreshToken string) error {
	record, err := f.Store.GetRefreshTokenByHash(ctx, cryptoutil.HashTokenHex(refreshToken))
	if err != nil {
		return err
	}
	return f.Tokens.RevokeAllForUser(ctx, record.UserID)
}

// MembershipView is one entry of GET /api/memberships's response.
type MembershipView struct {
	TenantID string `json:"tenantId"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// Memberships implements GET /api/memberships: verifies the Bearer access
// token (either audience may call this) and lists every tenant membership
// its subject holds.
func (f *Flows) Memberships(ctx context.Context, accessToken string) ([]MembershipView, error) {
	claims, err := f.JWT.Verify(accessToken, "")
	if err != nil {
		return nil, err
	}

	memberships, err := f.Store.ListMemberships(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("session: list memberships: %w", err)
	}

	out := make([]MembershipView, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, MembershipView{TenantID: m.TenantID, Role: string(m.Role), Status: string(m.Status)})
	}
	return out, nil
}
