package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PasswordResetToken is a single-use password-reset credential.
type PasswordResetToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// CreatePasswordResetToken inserts a new reset-token row.
func (c *Conn) CreatePasswordResetToken(ctx context.Context, t PasswordResetToken) error {
	_, err := c.exec(ctx, `
		insert into password_reset_tokens (token_hash, user_id, expires_at, used_at)
		values ($1, $2, $3, null);
	`, t.TokenHash, t.UserID, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store: create password reset token: %w", err)
	}
	return nil
}

// ConsumePasswordResetToken reads the row and, iff found and not already
// used, marks used_at in the same statement. A subsequent read will find
// used_at already set and this call returns ErrNotFound for it, making the
// token single-use regardless of expiry (expiry is checked by the caller
// against the returned row).
func (c *Conn) ConsumePasswordResetToken(ctx context.Context, tokenHash string, now time.Time) (PasswordResetToken, error) {
	row := c.queryRow(ctx, `
		update password_reset_tokens set used_at = $1
		where token_hash = $2 and used_at is null
		returning token_hash, user_id, expires_at, used_at;
	`, now, tokenHash)

	var t PasswordResetToken
	err := row.Scan(&t.TokenHash, &t.UserID, &t.ExpiresAt, &t.UsedAt)
	if err == sql.ErrNoRows {
		return PasswordResetToken{}, ErrNotFound
	}
	if err != nil {
		return PasswordResetToken{}, fmt.Errorf("store: consume password reset token: %w", err)
	}
	return t, nil
}
