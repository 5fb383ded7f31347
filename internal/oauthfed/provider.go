package oauthfed

import "context"

// Profile is the normalized identity every provider adapter produces,
// regardless of whether it came from an ID token (Google/Apple/Microsoft)
// or a profile endpoint (Facebook).
type Profile struct {
	Provider          string
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	Name              string
	AvatarURL         *string
}

// ExchangeInput carries everything an adapter needs to turn an authorization
// code into a Profile.
type ExchangeInput struct {
	Code         string
	PKCEVerifier string
	Nonce        string // empty if the provider doesn't support OIDC
	RedirectURI  string
	// AppleUserBlob is the form-encoded "user" JSON field Apple includes on
	// a user's very first authorization only.
	AppleUserBlob string
}

// Provider is one federated-identity strategy. Every supported federation
// provider (Google, Facebook, Apple, Microsoft) implements this with an
// adapter in its own package.
type Provider interface {
	// Name is the provider slug used in state rows, URLs and errors:
	// "google", "facebook", "apple", "microsoft".
	Name() string

	// Configured reports whether this adapter has usable credentials. An
	// unconfigured provider causes Init to redirect with
	// error=oauth_not_configured rather than panicking or 500ing.
	Configured() bool

	// SupportsNonce reports whether this provider is OIDC-based and should
	// receive a nonce (Google, Apple, Microsoft: yes; Facebook: no).
	SupportsNonce() bool

	// AuthURL builds the provider's authorization endpoint URL.
	AuthURL(state, pkceChallenge, nonce, redirectURI string) (string, error)

	// Exchange trades an authorization code for a normalized profile,
	// validating the provider's ID token (issuer, audience, expiry, nonce)
	// along the way where applicable.
	Exchange(ctx context.Context, in ExchangeInput) (Profile, error)
}
