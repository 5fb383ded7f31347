// Package apple adapts Sign in with Apple to oauthfed.Provider. Apple's
// token endpoint authenticates the client with a short-lived ES256 JWT
// instead of a static secret, and only includes the user's name in a
// form-encoded "user" blob present on the first authorization.
package apple

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed"
)

const (
	issuer        = "https://appleid.apple.com"
	tokenURL      = issuer + "/auth/token"
	authURL       = issuer + "/auth/authorize"
	clientSecretTTL = 5 * time.Minute
)

// Config holds the provisioned Sign in with Apple credentials.
type Config struct {
	ClientID   string // the Services ID registered with Apple
	TeamID     string
	KeyID      string
	SigningKey *cryptoutil.SigningKey // ES256 key provisioned for client-secret minting
}

// Adapter implements oauthfed.Provider for Apple.
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

func (a *Adapter) Name() string { return "apple" }

func (a *Adapter) Configured() bool {
	return a.config.ClientID != "" && a.config.TeamID != "" && a.config.KeyID != "" && a.config.SigningKey != nil
}

func (a *Adapter) SupportsNonce() bool { return true }

type clientSecretClaims struct {
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Audience  string `json:"aud"`
	Subject   string `json:"sub"`
}

// mintClientSecret signs {iss:team-id, sub:client-id, aud, iat, exp} with
// the provisioned key, using a kid header.
func (a *Adapter) mintClientSecret() (string, error) {
	now := a.now().UTC()
	claims := clientSecretClaims{
		Issuer: a.config.TeamID, IssuedAt: now.Unix(),
		ExpiresAt: now.Add(clientSecretTTL).Unix(),
		Audience:  issuer, Subject: a.config.ClientID,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("apple: marshal client secret claims: %w", err)
	}
	return a.config.SigningKey.SignCompactJWS(payload)
}

func (a *Adapter) oauth2Config(redirectURI, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.config.ClientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
		Scopes:       []string{"name", "email"},
	}
}

func (a *Adapter) AuthURL(state, pkceChallenge, nonce, redirectURI string) (string, error) {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", pkceChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("response_mode", "form_post"),
	}
	return a.oauth2Config(redirectURI, "").AuthCodeURL(state, opts...), nil
}

// appleUserBlob is Apple's first-login-only "user" form field.
type appleUserBlob struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
	Email string `json:"email"`
}

func (a *Adapter) Exchange(ctx context.Context, in oauthfed.ExchangeInput) (oauthfed.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientSecret, err := a.mintClientSecret()
	if err != nil {
		return oauthfed.Profile{}, err
	}

	token, err := a.oauth2Config(in.RedirectURI, clientSecret).Exchange(ctx, in.Code,
		oauth2.SetAuthURLParam("code_verifier", in.PKCEVerifier))
	if err != nil {
		return oauthfed.Profile{}, fmt.Errorf("apple: exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return oauthfed.Profile{}, fmt.Errorf("apple: token response has no id_token")
	}

	claims, err := oauthfed.ParseUnverifiedIDToken(rawIDToken)
	if err != nil {
		return oauthfed.Profile{}, err
	}
	if err := oauthfed.ValidateClaims(claims, issuer, a.config.ClientID, in.Nonce, a.now().UTC()); err != nil {
		return oauthfed.Profile{}, fmt.Errorf("apple: %w", err)
	}

	name := ""
	if in.AppleUserBlob != "" {
		var blob appleUserBlob
		if err := json.Unmarshal([]byte(in.AppleUserBlob), &blob); err == nil {
			name = strings.TrimSpace(blob.Name.FirstName + " " + blob.Name.LastName)
		}
	}

	return oauthfed.Profile{
		Provider: "apple", ProviderAccountID: claims.Subject,
		Email: claims.Email, EmailVerified: claims.EmailVerifiedBool(),
		Name: name,
	}, nil
}
