package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Audience is the consumer class of an access token.
type Audience string

const (
	AudienceStorefront Audience = "storefront"
	AudienceAdmin      Audience = "admin"
)

// AuthCode is a short-lived single-use exchange record. The plaintext code
// never touches storage; CodeHash is its SHA-256 hex digest and doubles as
// the primary key.
type AuthCode struct {
	CodeHash       string
	UserID         string
	TenantID       string
	RedirectOrigin string
	Audience       Audience
	ExpiresAt      time.Time
	PKCEChallenge  *string
	PKCEMethod     *string
}

// CreateAuthCode inserts a fresh authorization code row.
func (c *Conn) CreateAuthCode(ctx context.Context, a AuthCode) error {
	_, err := c.exec(ctx, `
		insert into auth_codes (code_hash, user_id, tenant_id, redirect_origin, audience, expires_at, pkce_challenge, pkce_method)
		values ($1, $2, $3, $4, $5, $6, $7, $8);
	`, a.CodeHash, a.UserID, a.TenantID, a.RedirectOrigin, string(a.Audience), a.ExpiresAt, a.PKCEChallenge, a.PKCEMethod)
	if err != nil {
		return fmt.Errorf("store: create auth code: %w", err)
	}
	return nil
}

// ConsumeAuthCode atomically reads and deletes the auth-code row for
// codeHash using a single DELETE ... RETURNING statement, so that under
// contention at most one caller observes the row, closing the
// read-then-delete race a naive SELECT-then-DELETE would have. Returns
// ErrNotFound if no row matched, including the case where another caller
// already consumed it.
func (c *Conn) ConsumeAuthCode(ctx context.Context, codeHash string) (AuthCode, error) {
	row := c.queryRow(ctx, `
		delete from auth_codes where code_hash = $1
		returning code_hash, user_id, tenant_id, redirect_origin, audience, expires_at, pkce_challenge, pkce_method;
	`, codeHash)

	var a AuthCode
	var audience string
	err := row.Scan(&a.CodeHash, &a.UserID, &a.TenantID, &a.RedirectOrigin, &audience, &a.ExpiresAt, &a.PKCEChallenge, &a.PKCEMethod)
	if err == sql.ErrNoRows {
		return AuthCode{}, ErrNotFound
	}
	if err != nil {
		return AuthCode{}, fmt.Errorf("store: consume auth code: %w", err)
	}
	a.Audience = Audience(audience)
	return a, nil
}
