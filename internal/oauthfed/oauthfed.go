// Package oauthfed implements the provider-agnostic OAuth2/OIDC federation
// state machine: initiation, callback, and a single provider-agnostic
// user-resolution algorithm shared by all four providers.
package oauthfed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/redirectvalidator"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/tokenkernel"
)

// FederationStateTTL is the fixed absolute expiry assigned to every
// federation-flow state row.
const FederationStateTTL = 5 * time.Minute

const (
	stateByteLen    = 32
	verifierByteLen = 32
	nonceByteLen    = 16
)

// ErrorCode mirrors credentials.ErrorCode: an abstract, user-visible reason
// echoed back to the browser as a redirect query parameter.
type ErrorCode string

const (
	ErrCodeOAuthNotConfigured ErrorCode = "oauth_not_configured"
	ErrCodeInvalidRedirect    ErrorCode = "invalid_redirect"
	ErrCodeInvalidState       ErrorCode = "invalid_state"
	ErrCodeProviderError      ErrorCode = "oauth_provider_error"
	ErrCodeProfileRejected    ErrorCode = "oauth_profile_rejected"
)

// FlowError wraps an ErrorCode for errors.As-based dispatch.
type FlowError struct {
	Code ErrorCode
}

func (e *FlowError) Error() string { return string(e.Code) }

func fail(code ErrorCode) error { return &FlowError{Code: code} }

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Flows bundles every dependency the federation state machine needs.
type Flows struct {
	Store         *store.Conn
	Validator     *redirectvalidator.Validator
	Tokens        *tokenkernel.Kernel
	Providers     map[string]Provider
	CallbackURLOf func(provider string) string
	now           Clock
}

// New constructs Flows. now defaults to time.Now when nil.
func New(conn *store.Conn, validator *redirectvalidator.Validator, tokens *tokenkernel.Kernel, providers map[string]Provider, callbackURLOf func(string) string, now Clock) *Flows {
	if now == nil {
		now = time.Now
	}
	return &Flows{Store: conn, Validator: validator, Tokens: tokens, Providers: providers, CallbackURLOf: callbackURLOf, now: now}
}

// Init validates the caller's redirect target, provisions PKCE and nonce
// material, persists federation state, and returns the provider
// authorization URL the caller must 302 to.
func (f *Flows) Init(ctx context.Context, providerName, redirectURL string) (string, error) {
	provider, ok := f.Providers[providerName]
	if !ok || !provider.Configured() {
		return "", fail(ErrCodeOAuthNotConfigured)
	}

	redirect, err := f.Validator.Validate(ctx, redirectURL)
	if err != nil {
		return "", fail(ErrCodeInvalidRedirect)
	}

	state, err := cryptoutil.NewHexToken(stateByteLen)
	if err != nil {
		return "", fmt.Errorf("oauthfed: generate state: %w", err)
	}
	verifier, err := cryptoutil.NewBase64URLToken(verifierByteLen)
	if err != nil {
		return "", fmt.Errorf("oauthfed: generate pkce verifier: %w", err)
	}
	challenge := cryptoutil.S256Challenge(verifier)

	var noncePtr *string
	var nonce string
	if provider.SupportsNonce() {
		nonce, err = cryptoutil.NewHexToken(nonceByteLen)
		if err != nil {
			return "", fmt.Errorf("oauthfed: generate nonce: %w", err)
		}
		noncePtr = &nonce
	}

	now := f.now().UTC()
	if err := f.Store.CreateFederationState(ctx, store.FederationState{
		State: state, TenantID: redirect.TenantID, RedirectURL: redirect.Origin,
		PKCEVerifier: verifier, Nonce: noncePtr, Provider: providerName,
		ExpiresAt: now.Add(FederationStateTTL),
	}); err != nil {
		return "", fmt.Errorf("oauthfed: create federation state: %w", err)
	}

	authURL, err := provider.AuthURL(state, challenge, nonce, f.CallbackURLOf(providerName))
	if err != nil {
		return "", fmt.Errorf("oauthfed: build authorization url: %w", err)
	}
	return authURL, nil
}

// CallbackInput is what the HTTP layer extracts from the provider's
// redirect.
type CallbackInput struct {
	State         string
	Code          string
	ProviderError string
	AppleUserBlob string
}

// Callback consumes the one-time federation state, exchanges the
// authorization code for a normalized profile, resolves it to a user, and
// issues a refresh token family plus a storefront authorization code.
func (f *Flows) Callback(ctx context.Context, providerName string, in CallbackInput) (tokenkernel.IssuedRefreshToken, string, string, error) {
	if in.ProviderError != "" {
		return tokenkernel.IssuedRefreshToken{}, "", "", fail(ErrCodeProviderError)
	}

	stateRow, err := f.Store.ConsumeFederationState(ctx, in.State)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return tokenkernel.IssuedRefreshToken{}, "", "", fail(ErrCodeInvalidState)
		}
		return tokenkernel.IssuedRefreshToken{}, "", "", fmt.Errorf("oauthfed: consume federation state: %w", err)
	}
	if stateRow.Provider != providerName {
		return tokenkernel.IssuedRefreshToken{}, "", "", fail(ErrCodeInvalidState)
	}
	now := f.now().UTC()
	if now.After(stateRow.ExpiresAt) {
		return tokenkernel.IssuedRefreshToken{}, "", "", fail(ErrCodeInvalidState)
	}

	provider, ok := f.Providers[providerName]
	if !ok {
		return tokenkernel.IssuedRefreshToken{}, "", "", fail(ErrCodeOAuthNotConfigured)
	}

	nonce := ""
	if stateRow.Nonce != nil {
		nonce = *stateRow.Nonce
	}
	profile, err := provider.Exchange(ctx, ExchangeInput{
		Code: in.Code, PKCEVerifier: stateRow.PKCEVerifier, Nonce: nonce,
		RedirectURI: f.CallbackURLOf(providerName), AppleUserBlob: in.AppleUserBlob,
	})
	if err != nil {
		return tokenkernel.IssuedRefreshToken{}, "", "", fmt.Errorf("oauthfed: exchange code: %w", err)
	}
	if profile.Email == "" {
		return tokenkernel.IssuedRefreshToken{}, "", "", fail(ErrCodeProfileRejected)
	}

	userID, err := f.resolveUser(ctx, profile, now)
	if err != nil {
		return tokenkernel.IssuedRefreshToken{}, "", "", err
	}

	if err := f.Store.EnsureMembership(ctx, uuid.NewString(), userID, stateRow.TenantID, now); err != nil {
		return tokenkernel.IssuedRefreshToken{}, "", "", fmt.Errorf("oauthfed: ensure membership: %w", err)
	}

	refresh, err := f.Tokens.IssueRefreshFamily(ctx, userID, "", "")
	if err != nil {
		return tokenkernel.IssuedRefreshToken{}, "", "", fmt.Errorf("oauthfed: issue refresh token: %w", err)
	}
	code, err := f.Tokens.IssueAuthCode(ctx, tokenkernel.AuthCodeParams{
		UserID: userID, TenantID: stateRow.TenantID, RedirectOrigin: stateRow.RedirectURL,
		Audience: store.AudienceStorefront,
	})
	if err != nil {
		return tokenkernel.IssuedRefreshToken{}, "", "", fmt.Errorf("oauthfed: issue auth code: %w", err)
	}

	return refresh, code, stateRow.RedirectURL, nil
}

// resolveUser is the single, provider-agnostic identity-resolution
// algorithm shared by every federation provider.
func (f *Flows) resolveUser(ctx context.Context, profile Profile, now time.Time) (string, error) {
	// 6.1: an existing link for (provider, providerAccountId) wins outright.
	if fed, err := f.Store.GetFederatedIdentity(ctx, profile.Provider, profile.ProviderAccountID); err == nil {
		if err := f.Store.UpdateProfileBackfill(ctx, fed.UserID, profile.Name, profile.AvatarURL, now); err != nil {
			return "", fmt.Errorf("oauthfed: backfill linked user profile: %w", err)
		}
		return fed.UserID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("oauthfed: lookup federated identity: %w", err)
	}

	existing, err := f.Store.GetUserByEmail(ctx, profile.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// No user at all, no link: create both fresh.
		return f.createUserWithLink(ctx, profile, now)
	case err != nil:
		return "", fmt.Errorf("oauthfed: lookup user by email: %w", err)
	case profile.EmailVerified:
		// Same verified email: link to the existing account.
		if err := f.Store.CreateFederatedIdentity(ctx, store.FederatedIdentity{
			ID: uuid.NewString(), UserID: existing.ID, Provider: profile.Provider,
			ProviderAccountID: profile.ProviderAccountID, CreatedAt: now,
		}); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return "", fmt.Errorf("oauthfed: link federated identity: %w", err)
		}
		if err := f.Store.UpdateProfileBackfill(ctx, existing.ID, profile.Name, profile.AvatarURL, now); err != nil {
			return "", fmt.Errorf("oauthfed: backfill linked user profile: %w", err)
		}
		if err := f.Store.MarkEmailVerified(ctx, existing.ID, now); err != nil {
			return "", fmt.Errorf("oauthfed: mark email verified: %w", err)
		}
		return existing.ID, nil
	default:
		// Same email but not provider-verified: never silently link, since
		// that would let an unverified email at a federated provider take
		// over an existing account. A brand-new, separate user is created
		// instead.
		return f.createUserWithLink(ctx, profile, now)
	}
}

func (f *Flows) createUserWithLink(ctx context.Context, profile Profile, now time.Time) (string, error) {
	user := store.User{
		ID: uuid.NewString(), Email: profile.Email, EmailVerified: profile.EmailVerified,
		Name: profile.Name, AvatarURL: profile.AvatarURL, CreatedAt: now, UpdatedAt: now,
	}
	if err := f.Store.CreateUser(ctx, user); err != nil {
		return "", fmt.Errorf("oauthfed: create user: %w", err)
	}
	if err := f.Store.CreateFederatedIdentity(ctx, store.FederatedIdentity{
		ID: uuid.NewString(), UserID: user.ID, Provider: profile.Provider,
		ProviderAccountID: profile.ProviderAccountID, CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("oauthfed: create federated identity: %w", err)
	}
	return user.ID, nil
}
