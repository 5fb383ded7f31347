package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate applies any schema migrations not yet recorded in the migrations
// table: a migrations bookkeeping table plus one transaction per migration
// step.
func (c *Conn) migrate(ctx context.Context) error {
	_, err := c.exec(ctx, `
		create table if not exists migrations (
			num integer not null,
			at timestamptz not null
		);
	`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for {
		var done bool
		err := c.withTx(ctx, func(tx *Tx) error {
			var num sql.NullInt64
			if err := tx.queryRow(ctx, `select max(num) from migrations;`).Scan(&num); err != nil {
				return fmt.Errorf("select max migration: %w", err)
			}
			n := 0
			if num.Valid {
				n = int(num.Int64)
			}
			if n >= len(schemaMigrations) {
				done = true
				return nil
			}

			next := n + 1
			if _, err := tx.exec(ctx, schemaMigrations[n]); err != nil {
				return fmt.Errorf("migration %d failed: %w", next, err)
			}
			if _, err := tx.exec(ctx, `insert into migrations (num, at) values ($1, now());`, next); err != nil {
				return fmt.Errorf("recording migration %d: %w", next, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// schemaMigrations holds one migration per entity table plus a follow-up
// for indexes.
var schemaMigrations = []string{
	`
		create table users (
			id text not null primary key,
			email text not null unique,
			email_verified boolean not null,
			password_hash text,
			name text not null,
			avatar_url text,
			created_at timestamptz not null,
			updated_at timestamptz not null
		);
	`,
	`
		create table tenant_memberships (
			id text not null primary key,
			user_id text not null references users(id),
			tenant_id text not null,
			role text not null,
			status text not null,
			created_at timestamptz not null,
			unique (user_id, tenant_id, role)
		);
	`,
	`
		create table federated_identities (
			id text not null primary key,
			user_id text not null references users(id),
			provider text not null,
			provider_account_id text not null,
			created_at timestamptz not null,
			unique (provider, provider_account_id)
		);
	`,
	`
		create table auth_codes (
			code_hash text not null primary key,
			user_id text not null,
			tenant_id text not null,
			redirect_origin text not null,
			audience text not null,
			expires_at timestamptz not null,
			pkce_challenge text,
			pkce_method text
		);
	`,
	`
		create table refresh_tokens (
			id text not null primary key,
			user_id text not null,
			token_hash text not null unique,
			family_id text not null,
			expires_at timestamptz not null,
			revoked_at timestamptz,
			last_used_at timestamptz,
			created_at timestamptz not null,
			ip text,
			user_agent text
		);
	`,
	`
		create table federation_states (
			state text not null primary key,
			tenant_id text not null,
			redirect_url text not null,
			pkce_verifier text not null,
			nonce text,
			provider text not null,
			expires_at timestamptz not null
		);
	`,
	`
		create table password_reset_tokens (
			token_hash text not null primary key,
			user_id text not null,
			expires_at timestamptz not null,
			used_at timestamptz
		);
	`,
	`
		create index refresh_tokens_family_id_idx on refresh_tokens (family_id);
		create index refresh_tokens_user_id_idx on refresh_tokens (user_id);
		create index tenant_memberships_user_id_idx on tenant_memberships (user_id);
		create index auth_codes_expires_at_idx on auth_codes (expires_at);
		create index federation_states_expires_at_idx on federation_states (expires_at);
	`,
}
