// Package google adapts Google's OpenID Connect provider to
// oauthfed.Provider, covering the authorization-code + ID token path.
package google

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed"
)

const issuer = "https://accounts.google.com"

// Config holds the provisioned OAuth client credentials for Google.
type Config struct {
	ClientID     string
	ClientSecret string

	// Endpoint overrides the hardcoded Google endpoint when set, normally
	// populated from oauthfed.DiscoverEndpoint against Google's discovery
	// document at startup.
	Endpoint *oauth2.Endpoint
}

// Adapter implements oauthfed.Provider for Google.
type Adapter struct {
	config Config
	now    func() time.Time
}

// New constructs an Adapter. now defaults to time.Now when nil.
func New(config Config, now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{config: config, now: now}
}

func (a *Adapter) Name() string        { return "google" }
func (a *Adapter) Configured() bool    { return a.config.ClientID != "" && a.config.ClientSecret != "" }
func (a *Adapter) SupportsNonce() bool { return true }

func (a *Adapter) oauth2Config(redirectURI string) *oauth2.Config {
	endpoint := googleoauth.Endpoint
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
		return oauthfed.Profile{}, fmt.Errorf("google: exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return oauthfed.Profile{}, fmt.Errorf("google: token response has no id_token")
	}

	claims, err := oauthfed.ParseUnverifiedIDToken(rawIDToken)
	if err != nil {
		return oauthfed.Profile{}, err
	}
	if err := oauthfed.ValidateClaims(claims, issuer, a.config.ClientID, in.Nonce, a.now().UTC()); err != nil {
		return oauthfed.Profile{}, fmt.Errorf("google: %w", err)
	}

	var avatar *string
	if claims.Picture != "" {
		avatar = &claims.Picture
	}
	return oauthfed.Profile{
		Provider: "google", ProviderAccountID: claims.Subject,
		Email: claims.Email, EmailVerified: claims.EmailVerifiedBool(),
		Name: claims.Name, AvatarURL: avatar,
	}, nil
}
