// Package microsoft adapts Microsoft's Entra ID (Azure AD) v2.0 OIDC
// endpoint to oauthfed.Provider, covering the authorization-code + ID token
// path.
package microsoft

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed"
)

// issuerPattern matches any tenant-specific issuer Microsoft returns.
const issuerPattern = `^https://login\.microsoftonline\.com/[^/]+/v2\.0$`

// Config holds the provisioned OAuth client credentials for Microsoft.
// Tenant is usually "common" to accept personal and work/school accounts.
type Config struct {
	ClientID     string
	ClientSecret string
	Tenant       string

	// Endpoint overrides the derived tenant endpoint when set, normally
	// populated from oauthfed.DiscoverEndpoint against
	// "https://login.microsoftonline.com/<tenant>/v2.0" at startup.
	Endpoint *oauth2.Endpoint
}

// Adapter implements oauthfed.Provider for Microsoft.
type Adapter struct {
	config Config
	now    func() time.Time
}

// New constructs an Adapter. now defaults to time.Now when nil.
func New(config Config, now func() time.Time) *Adapter {
	if config.Tenant == "" {
		config.Tenant = "common"
	}
	if now == nil {
		now = time.Now
	}
	return &Adapter{config: config, now: now}
}

func (a *Adapter) Name() string        { return "microsoft" }
func (a *Adapter) Configured() bool    { return a.config.ClientID != "" && a.config.ClientSecret != "" }
func (a *Adapter) SupportsNonce() bool { return true }

func (a *Adapter) endpoint() oauth2.Endpoint {
	base := "https://login.microsoftonline.com/" + a.config.Tenant + "/oauth2/v2.0"
	return oauth2.Endpoint{AuthURL: base + "/authorize", TokenURL: base + "/token"}
}

func (a *Adapter) oauth2Config(redirectURI string) *oauth2.Config {
	endpoint := a.endpoint()
	if a.config.Endpoint != nil {
		endpoint = *a.config.Endpoint
	}
	return &oauth2.Config{
		ClientID:     a.config.ClientID,
		ClientSecret: a.config.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     endpoint,
		Scopes:       []string{"openid", "profile", "email"},
	}
}

func (a *Adapter) AuthURL(state, pkceChallenge, nonce, redirectURI string) (string, error) {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", pkceChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	return a.oauth2Config(redirectURI).AuthCodeURL(state, opts...), nil
}

func (a *Adapter) Exchange(ctx context.Context, in oauthfed.ExchangeInput) (oauthfed.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	token, err := a.oauth2Config(in.RedirectURI).Exchange(ctx, in.Code,
		oauth2.SetAuthURLParam("code_verifier", in.PKCEVerifier))
	if err != nil {
		return oauthfed.Profile{}, fmt.Errorf("microsoft: exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return oauthfed.Profile{}, fmt.Errorf("microsoft: token response has no id_token")
	}

	claims, err := oauthfed.ParseUnverifiedIDToken(rawIDToken)
	if err != nil {
		return oauthfed.Profile{}, err
	}
	if err := oauthfed.ValidateClaims(claims, issuerPattern, a.config.ClientID, in.Nonce, a.now().UTC()); err != nil {
		return oauthfed.Profile{}, fmt.Errorf("microsoft: %w", err)
	}

	return oauthfed.Profile{
		Provider: "microsoft", ProviderAccountID: claims.Subject,
		Email: claims.Email, EmailVerified: claims.EmailVerifiedBool(),
		Name: claims.Name,
	}, nil
}
