package microsoft

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfiguredReflectsCredentials(t *testing.T) {
	require.False(t, New(Config{}, nil).Configured())
	require.True(t, New(Config{ClientID: "id", ClientSecret: "secret"}, nil).Configured())
}

func TestNewDefaultsTenantToCommon(t *testing.T) {
	a := New(Config{ClientID: "id", ClientSecret: "secret"}, nil)
	require.Equal(t, "common", a.config.Tenant)
}

func TestAuthURLUsesTenantSpecificEndpoint(t *testing.T) {
	a := New(Config{ClientID: "client-1", ClientSecret: "secret", Tenant: "my-tenant"}, nil)

	raw, err := a.AuthURL("state-1", "challenge-1", "nonce-1", "https://auth.centerpiece.shop/oauth/microsoft/callback")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	require.Contains(t, parsed.Path, "/my-tenant/oauth2/v2.0/authorize")
	require.Equal(t, "state-1", parsed.Query().Get("state"))
}
