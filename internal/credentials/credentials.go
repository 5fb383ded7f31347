// Package credentials implements the password-based registration, login,
// forgot-password and reset-password flows, in a fixed check order.
package credentials

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/redirectvalidator"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/tokenkernel"
)

// ErrorCode is the abstract, user-visible reason a flow step failed, echoed
// back to the browser as a redirect query parameter. Values are drawn from
// a closed set shared with the session and OAuth federation flows.
type ErrorCode string

const (
	ErrCodeInvalidRedirect    ErrorCode = "invalid_redirect"
	ErrCodeInvalidEmail       ErrorCode = "invalid_email"
	ErrCodeWeakPassword       ErrorCode = "password_weak"
	ErrCodePasswordMismatch   ErrorCode = "password_mismatch"
	ErrCodeEmailExists        ErrorCode = "email_exists"
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	ErrCodeInvalidResetToken  ErrorCode = "invalid_token"
	ErrCodeResetTokenExpired  ErrorCode = "token_expired"
)

// FlowError wraps an ErrorCode so callers can type-assert with errors.As
// while the message stays human-readable in logs.
type FlowError struct {
	Code ErrorCode
}

func (e *FlowError) Error() string { return string(e.Code) }

func fail(code ErrorCode) error { return &FlowError{Code: code} }

const minPasswordLength = 8

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// PasswordResetTokenTTL is the fixed reset-token lifetime.
const PasswordResetTokenTTL = time.Hour

const resetTokenByteLen = 32

// Mailer sends the forgot-password email. Its failures never interrupt the
// flow.
type Mailer interface {
	SendPasswordReset(ctx context.Context, toEmail, resetToken string) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Flows bundles the dependencies every credential flow needs.
type Flows struct {
	Store     *store.Conn
	Validator *redirectvalidator.Validator
	Tokens    *tokenkernel.Kernel
	Mailer    Mailer
	now       Clock
}

// New constructs Flows. now defaults to time.Now when nil.
func New(conn *store.Conn, validator *redirectvalidator.Validator, tokens *tokenkernel.Kernel, mailer Mailer, now Clock) *Flows {
	if now == nil {
		now = time.Now
	}
	return &Flows{Store: conn, Validator: validator, Tokens: tokens, Mailer: mailer, now: now}
}

// AuthResult is what a successful registration or login hands the session
// layer: the tenant the user is now authenticated into, and the freshly
// minted credentials it must attach to the 302 response.
type AuthResult struct {
	TenantID       string
	RedirectOrigin string
	RefreshToken   string
	AuthCode       string
}

// RegisterParams is POST /api/register's body.
type RegisterParams struct {
	Email           string
	Password        string
	ConfirmPassword string
	Name            string
	RedirectURL     string
	Audience        store.Audience
	PKCEChallenge   string
	PKCEMethod      string
	IP              string
	UserAgent       string
}

// Register runs the registration checks in a fixed order: redirect, email
// shape, password strength, confirmation match, then email-uniqueness.
func (f *Flows) Register(ctx context.Context, p RegisterParams) (AuthResult, error) {
	redirect, err := f.Validator.Validate(ctx, p.RedirectURL)
	if err != nil {
		return AuthResult{}, fail(ErrCodeInvalidRedirect)
	}
	if !emailShape.MatchString(p.Email) {
		return AuthResult{}, fail(ErrCodeInvalidEmail)
	}
	if len(p.Password) < minPasswordLength {
		return AuthResult{}, fail(ErrCodeWeakPassword)
	}
	if p.Password != p.ConfirmPassword {
		return AuthResult{}, fail(ErrCodePasswordMismatch)
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = localPart(p.Email)
	}

	// Tenant id always comes from the redirect validator, never from the
	// request body, so a caller cannot smuggle in an arbitrary tenant id.
	tenantID := redirect.TenantID

	if _, err := f.Store.GetUserByEmail(ctx, p.Email); err == nil {
		return AuthResult{}, fail(ErrCodeEmailExists)
	} else if err != store.ErrNotFound {
		return AuthResult{}, fmt.Errorf("credentials: lookup existing user: %w", err)
	}

	hash, err := cryptoutil.HashPassword(p.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("credentials: hash password: %w", err)
	}

	now := f.now().UTC()
	user := store.User{
		ID:           uuid.NewString(),
		Email:        p.Email,
		PasswordHash: &hash,
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.Store.CreateUser(ctx, user); err != nil {
		if err == store.ErrAlreadyExists {
			return AuthResult{}, fail(ErrCodeEmailExists)
		}
		return AuthResult{}, fmt.Errorf("credentials: create user: %w", err)
	}

	return f.finishAuthentication(ctx, finishAuthParams{
		UserID: user.ID, TenantID: tenantID, RedirectOrigin: redirect.Origin,
		Audience: p.Audience, PKCEChallenge: p.PKCEChallenge, PKCEMethod: p.PKCEMethod,
		IP: p.IP, UserAgent: p.UserAgent,
	})
}

// LoginParams is POST /api/login's body.
type LoginParams struct {
	Email         string
	Password      string
	RedirectURL   string
	Audience      store.Audience
	PKCEChallenge string
	PKCEMethod    string
	IP            string
	UserAgent     string
}

// Login verifies the redirect, then the credentials, including the dummy
// PBKDF2 derivation that equalizes timing between "no such user" and "wrong
// password" so neither can be distinguished by an attacker measuring
// latency.
func (f *Flows) Login(ctx context.Context, p LoginParams) (AuthResult, error) {
	redirect, err := f.Validator.Validate(ctx, p.RedirectURL)
	if err != nil {
		return AuthResult{}, fail(ErrCodeInvalidRedirect)
	}

	user, err := f.Store.GetUserByEmail(ctx, p.Email)
	if err != nil {
		if err != store.ErrNotFound {
			return AuthResult{}, fmt.Errorf("credentials: lookup user: %w", err)
		}
		cryptoutil.DummyHashCost(p.Password)
		return AuthResult{}, fail(ErrCodeInvalidCredentials)
	}
	if user.PasswordHash == nil {
		cryptoutil.DummyHashCost(p.Password)
		return AuthResult{}, fail(ErrCodeInvalidCredentials)
	}
	if !cryptoutil.VerifyPassword(p.Password, *user.PasswordHash) {
		return AuthResult{}, fail(ErrCodeInvalidCredentials)
	}

	return f.finishAuthentication(ctx, finishAuthParams{
		UserID: user.ID, TenantID: redirect.TenantID, RedirectOrigin: redirect.Origin,
		Audience: p.Audience, PKCEChallenge: p.PKCEChallenge, PKCEMethod: p.PKCEMethod,
		IP: p.IP, UserAgent: p.UserAgent,
	})
}

type finishAuthParams struct {
	UserID         string
	TenantID       string
	RedirectOrigin string
	Audience       store.Audience
	PKCEChallenge  string
	PKCEMethod     string
	IP             string
	UserAgent      string
}

// finishAuthentication is the shared tail of registration and login: ensure
// a customer membership, then mint the refresh token and authorization code
// the caller redirects the browser back with.
func (f *Flows) finishAuthentication(ctx context.Context, p finishAuthParams) (AuthResult, error) {
	now := f.now().UTC()
	if err := f.Store.EnsureMembership(ctx, uuid.NewString(), p.UserID, p.TenantID, now); err != nil {
		return AuthResult{}, fmt.Errorf("credentials: ensure membership: %w", err)
	}

	refresh, err := f.Tokens.IssueRefreshFamily(ctx, p.UserID, p.IP, p.UserAgent)
	if err != nil {
		return AuthResult{}, fmt.Errorf("credentials: issue refresh token: %w", err)
	}

	audience := p.Audience
	if audience == "" {
		audience = store.AudienceStorefront
	}
	code, err := f.Tokens.IssueAuthCode(ctx, tokenkernel.AuthCodeParams{
		UserID: p.UserID, TenantID: p.TenantID, RedirectOrigin: p.RedirectOrigin,
		Audience: audience, PKCEChallenge: p.PKCEChallenge, PKCEMethod: p.PKCEMethod,
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("credentials: issue auth code: %w", err)
	}

	return AuthResult{
		TenantID: p.TenantID, RedirectOrigin: p.RedirectOrigin,
		RefreshToken: refresh.Plaintext, AuthCode: code,
	}, nil
}

// ForgotPassword always behaves identically whether or not the email
// belongs to a real account, so a caller can never use it to enumerate
// accounts. A reset-token row and email send only happen when it does.
func (f *Flows) ForgotPassword(ctx context.Context, email string) error {
	user, err := f.Store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil
	}

	token, err := cryptoutil.NewHexToken(resetTokenByteLen)
	if err != nil {
		return nil
	}
	now := f.now().UTC()
	row := store.PasswordResetToken{
		TokenHash: cryptoutil.HashTokenHex(token),
		UserID:    user.ID,
		ExpiresAt: now.Add(PasswordResetTokenTTL),
	}
	if err := f.Store.CreatePasswordResetToken(ctx, row); err != nil {
		return nil
	}

	if f.Mailer != nil {
		_ = f.Mailer.SendPasswordReset(ctx, user.Email, token)
	}
	return nil
}

// ResetPasswordParams is reset-password's form body.
type ResetPasswordParams struct {
	Token           string
	NewPassword     string
	ConfirmPassword string
}

// ResetPassword checks, in order, token presence, password strength,
// confirmation match, then (and only then) consumption of the reset token —
// so a weak or mismatched password never burns a valid token.
func (f *Flows) ResetPassword(ctx context.Context, p ResetPasswordParams) error {
	if strings.TrimSpace(p.Token) == "" {
		return fail(ErrCodeInvalidResetToken)
	}
	if len(p.NewPassword) < minPasswordLength {
		return fail(ErrCodeWeakPassword)
	}
	if p.NewPassword != p.ConfirmPassword {
		return fail(ErrCodePasswordMismatch)
	}

	now := f.now().UTC()
	row, err := f.Store.ConsumePasswordResetToken(ctx, cryptoutil.HashTokenHex(p.Token), now)
	if err != nil {
		if err == store.ErrNotFound {
			return fail(ErrCodeInvalidResetToken)
		}
		return fmt.Errorf("credentials: consume reset token: %w", err)
	}
	if now.After(row.ExpiresAt) {
		return fail(ErrCodeResetTokenExpired)
	}

	hash, err := cryptoutil.HashPassword(p.NewPassword)
	if err != nil {
		return fmt.Errorf("credentials: hash new password: %w", err)
	}
	if err := f.Store.UpdatePasswordHash(ctx, row.UserID, hash, now); err != nil {
		return fmt.Errorf("credentials: update password hash: %w", err)
	}

	// Mandatory session wipe: every refresh token this user holds, in every
	// family, dies with the password.
	if err := f.Store.RevokeAllRefreshTokensForUser(ctx, row.UserID, now); err != nil {
		return fmt.Errorf("credentials: revoke sessions after reset: %w", err)
	}
	return nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
