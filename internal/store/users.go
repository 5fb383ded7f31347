package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// User is the platform-wide identity record.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	PasswordHash  *string // nil iff the user has only federated credentials
	Name          string
	AvatarURL     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateUser inserts a new user. Email is lowercased before storage; a
// concurrent duplicate insert surfaces as ErrAlreadyExists so the caller can
// map it to the email_exists user-visible code.
func (c *Conn) CreateUser(ctx context.Context, u User) error {
	_, err := c.exec(ctx, `
		insert into users (id, email, email_verified, password_hash, name, avatar_url, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8);
	`, u.ID, strings.ToLower(u.Email), u.EmailVerified, u.PasswordHash, u.Name, u.AvatarURL, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.PasswordHash, &u.Name, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: scan user: %w", err)
	}
	return u, nil
}

const userColumns = `id, email, email_verified, password_hash, name, avatar_url, created_at, updated_at`

// GetUserByEmail looks up a user by case-insensitive email.
func (c *Conn) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := c.queryRow(ctx, `select `+userColumns+` from users where email = $1;`, strings.ToLower(email))
	return scanUser(row)
}

// GetUserByID looks up a user by id.
func (c *Conn) GetUserByID(ctx context.Context, id string) (User, error) {
	row := c.queryRow(ctx, `select `+userColumns+` from users where id = $1;`, id)
	return scanUser(row)
}

// UpdatePasswordHash sets a user's password hash (used by reset-password).
func (c *Conn) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error {
	res, err := c.exec(ctx, `update users set password_hash = $1, updated_at = $2 where id = $3;`, passwordHash, now, userID)
	if err != nil {
		return fmt.Errorf("store: update password hash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmailVerified flips the monotonic email-verified flag to true. It is a
// no-op if already true; the flag never flips back.
func (c *Conn) MarkEmailVerified(ctx context.Context, userID string, now time.Time) error {
	_, err := c.exec(ctx, `update users set email_verified = true, updated_at = $1 where id = $2 and email_verified = false;`, now, userID)
	if err != nil {
		return fmt.Errorf("store: mark email verified: %w", err)
	}
	return nil
}

// UpdateProfileBackfill backfills name/avatar only where currently empty,
// used by the federation callback's rule to backfill name and avatar only
// if they were previously empty.
func (c *Conn) UpdateProfileBackfill(ctx context.Context, userID, name string, avatarURL *string, now time.Time) error {
	_, err := c.exec(ctx, `
		update users set
			name = case when name = '' then $1 else name end,
			avatar_url = case when avatar_url is null then $2 else avatar_url end,
			updated_at = $3
		where id = $4;
	`, name, avatarURL, now, userID)
	if err != nil {
		return fmt.Errorf("store: backfill profile: %w", err)
	}
	return nil
}
