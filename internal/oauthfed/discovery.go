package oauthfed

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// DiscoverEndpoint resolves a provider's authorization/token endpoints from
// its OIDC discovery document (issuerURL + "/.well-known/openid-configuration").
// Used at startup for Google and Microsoft so the service tracks upstream
// endpoint rotation instead of pinning it in source. This deliberately stops
// at endpoint discovery: oauthfed's own ID-token validation (idtoken.go)
// elides signature verification, so the discovered provider's JWKS-backed
// Verifier is never constructed or consulted.
func DiscoverEndpoint(ctx context.Context, issuerURL string) (oauth2.Endpoint, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("oauthfed: discover %s: %w", issuerURL, err)
	}
	return provider.Endpoint(), nil
}
