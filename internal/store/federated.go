package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FederatedIdentity binds a user to a provider account.
type FederatedIdentity struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	CreatedAt         time.Time
}

// CreateFederatedIdentity links a user to a provider account. A concurrent
// duplicate link (same provider + provider account id) surfaces as
// ErrAlreadyExists.
func (c *Conn) CreateFederatedIdentity(ctx context.Context, f FederatedIdentity) error {
	_, err := c.exec(ctx, `
		insert into federated_identities (id, user_id, provider, provider_account_id, created_at)
		values ($1, $2, $3, $4, $5);
	`, f.ID, f.UserID, f.Provider, f.ProviderAccountID, f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: create federated identity: %w", err)
	}
	return nil
}

// GetFederatedIdentity looks up the link for (provider, providerAccountID).
func (c *Conn) GetFederatedIdentity(ctx context.Context, provider, providerAccountID string) (FederatedIdentity, error) {
	row := c.queryRow(ctx, `
		select id, user_id, provider, provider_account_id, created_at
		from federated_identities where provider = $1 and provider_account_id = $2;
	`, provider, providerAccountID)

	var f FederatedIdentity
	err := row.Scan(&f.ID, &f.UserID, &f.Provider, &f.ProviderAccountID, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return FederatedIdentity{}, ErrNotFound
	}
	if err != nil {
		return FederatedIdentity{}, fmt.Errorf("store: scan federated identity: %w", err)
	}
	return f, nil
}
