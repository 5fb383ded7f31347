package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RefreshToken is a long-lived rotatable credential. TokenHash is the
// SHA-256 hex digest of the plaintext value handed to the client.
type RefreshToken struct {
	ID          string
	UserID      string
	TokenHash   string
	FamilyID    string
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	IP          string
	UserAgent   string
}

// ErrRefreshTokenReused is returned by RotateRefreshToken when the presented
// token hash belongs to a row that was already revoked: the classic
// rotation-theft signal. The entire family has already been revoked by the
// time this error is returned.
var ErrRefreshTokenReused = errors.New("store: refresh token already rotated (reuse detected)")

// ErrRefreshTokenExpired is returned when the presented token's expiry has
// passed.
var ErrRefreshTokenExpired = errors.New("store: refresh token expired")

// CreateRefreshToken inserts the first token of a brand-new family, minted at
// the end of a successful authentication.
func (c *Conn) CreateRefreshToken(ctx context.Context, t RefreshToken) error {
	_, err := c.exec(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, family_id, expires_at, revoked_at, last_used_at, created_at, ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`, t.ID, t.UserID, t.TokenHash, t.FamilyID, t.ExpiresAt, t.RevokedAt, t.LastUsedAt, t.CreatedAt, t.IP, t.UserAgent)
	if err != nil {
		return fmt.Errorf("store: create refresh token: %w", err)
	}
	return nil
}

func scanRefreshToken(row interface{ Scan(...interface{}) error }) (RefreshToken, error) {
	var t RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.FamilyID, &t.ExpiresAt, &t.RevokedAt, &t.LastUsedAt, &t.CreatedAt, &t.IP, &t.UserAgent)
	if err == sql.ErrNoRows {
		return RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return RefreshToken{}, fmt.Errorf("store: scan refresh token: %w", err)
	}
	return t, nil
}

const refreshTokenColumns = `id, user_id, token_hash, family_id, expires_at, revoked_at, last_used_at, created_at, ip, user_agent`

// GetRefreshTokenByHash looks up a refresh token row by its hash.
func (c *Conn) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	row := c.queryRow(ctx, `select `+refreshTokenColumns+` from refresh_tokens where token_hash = $1;`, tokenHash)
	return scanRefreshToken(row)
}

// RotateRefreshToken implements the rotation algorithm atomically: look up
// by hash, reject missing/expired, detect reuse of an already-revoked token
// (revoking the whole family before returning
// ErrRefreshTokenReused), and otherwise mark the old row revoked and insert
// a fresh row in the same family. Concurrency: the conditional UPDATE
// ("... where token_hash = $1 and revoked_at is null") inside the
// transaction ensures that if two callers present the same unrevoked token
// at once, at most one wins the rotation — the loser's conditional update
// affects zero rows and is treated as reuse.
func (c *Conn) RotateRefreshToken(ctx context.Context, oldHash string, next RefreshToken, now time.Time) (RefreshToken, error) {
	var result RefreshToken
	err := c.withTx(ctx, func(tx *Tx) error {
		row := tx.queryRow(ctx, `select `+refreshTokenColumns+` from refresh_tokens where token_hash = $1;`, oldHash)
		existing, err := scanRefreshToken(row)
		if err != nil {
			return err
		}

		if existing.RevokedAt != nil {
			if err := revokeFamilyTx(ctx, tx, existing.FamilyID, now); err != nil {
				return err
			}
			return ErrRefreshTokenReused
		}
		if now.After(existing.ExpiresAt) {
			return ErrRefreshTokenExpired
		}

		res, err := tx.exec(ctx, `
			update refresh_tokens set revoked_at = $1, last_used_at = $1
			where token_hash = $2 and revoked_at is null;
		`, now, oldHash)
		if err != nil {
			return fmt.Errorf("revoke old refresh token: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Lost the race to a concurrent rotation of the same token.
			if err := revokeFamilyTx(ctx, tx, existing.FamilyID, now); err != nil {
				return err
			}
			return ErrRefreshTokenReused
		}

		next.FamilyID = existing.FamilyID
		_, err = tx.exec(ctx, `
			insert into refresh_tokens (id, user_id, token_hash, family_id, expires_at, revoked_at, last_used_at, created_at, ip, user_agent)
			values ($1, $2, $3, $4, $5, null, null, $6, $7, $8);
		`, next.ID, next.UserID, next.TokenHash, next.FamilyID, next.ExpiresAt, next.CreatedAt, next.IP, next.UserAgent)
		if err != nil {
			return fmt.Errorf("insert rotated refresh token: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return RefreshToken{}, err
	}
	return result, nil
}

func revokeFamilyTx(ctx context.Context, tx *Tx, familyID string, now time.Time) error {
	_, err := tx.exec(ctx, `
		update refresh_tokens set revoked_at = $1
		where family_id = $2 and revoked_at is null;
	`, now, familyID)
	if err != nil {
		return fmt.Errorf("revoke refresh token family: %w", err)
	}
	return nil
}

// RevokeRefreshTokenFamily revokes every member of a family. Used directly by
// logout (single token's family) and indirectly via RotateRefreshToken's
// reuse-detection path.
func (c *Conn) RevokeRefreshTokenFamily(ctx context.Context, familyID string, now time.Time) error {
	_, err := c.exec(ctx, `
		update refresh_tokens set revoked_at = $1
		where family_id = $2 and revoked_at is null;
	`, now, familyID)
	if err != nil {
		return fmt.Errorf("store: revoke refresh token family: %w", err)
	}
	return nil
}

// RevokeAllRefreshTokensForUser revokes every unrevoked refresh token owned
// by a user, across every family. Used by logout-all and by reset-password's
// mandatory session wipe.
func (c *Conn) RevokeAllRefreshTokensForUser(ctx context.Context, userID string, now time.Time) error {
	_, err := c.exec(ctx, `
		update refresh_tokens set revoked_at = $1
		where user_id = $2 and revoked_at is null;
	`, now, userID)
	if err != nil {
		return fmt.Errorf("store: revoke all refresh tokens for user: %w", err)
	}
	return nil
}
