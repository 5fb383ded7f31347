package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FederationState is a transient record pinning one OAuth provider
// round-trip. Single-use: consumed on callback.
type FederationState struct {
	State        string
	TenantID     string
	RedirectURL  string
	PKCEVerifier string
	Nonce        *string
	Provider     string
	ExpiresAt    time.Time
}

// CreateFederationState inserts a new federation-flow state row.
func (c *Conn) CreateFederationState(ctx context.Context, s FederationState) error {
	_, err := c.exec(ctx, `
		insert into federation_states (state, tenant_id, redirect_url, pkce_verifier, nonce, provider, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7);
	`, s.State, s.TenantID, s.RedirectURL, s.PKCEVerifier, s.Nonce, s.Provider, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store: create federation state: %w", err)
	}
	return nil
}

// ConsumeFederationState atomically reads and deletes a federation-state row
// by its state value, using the same DELETE ... RETURNING pattern as
// ConsumeAuthCode to close the read-then-delete race.
func (c *Conn) ConsumeFederationState(ctx context.Context, state string) (FederationState, error) {
	row := c.queryRow(ctx, `
		delete from federation_states where state = $1
		returning state, tenant_id, redirect_url, pkce_verifier, nonce, provider, expires_at;
	`, state)

	var s FederationState
	err := row.Scan(&s.State, &s.TenantID, &s.RedirectURL, &s.PKCEVerifier, &s.Nonce, &s.Provider, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return FederationState{}, ErrNotFound
	}
	if err != nil {
		return FederationState{}, fmt.Errorf("store: consume federation state: %w", err)
	}
	return s, nil
}
