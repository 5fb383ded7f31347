package google

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfiguredReflectsCredentials(t *testing.T) {
	require.False(t, New(Config{}, nil).Configured())
	require.True(t, New(Config{ClientID: "id", ClientSecret: "secret"}, nil).Configured())
}

func TestAuthURLIncludesPKCEAndNonce(t *testing.T) {
	a := New(Config{ClientID: "client-1", ClientSecret: "secret"}, nil)

	raw, err := a.AuthURL("state-1", "challenge-1", "nonce-1", "https://auth.centerpiece.shop/oauth/google/callback")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "state-1", q.Get("state"))
	require.Equal(t, "challenge-1", q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "nonce-1", q.Get("nonce"))
	require.Equal(t, "client-1", q.Get("client_id"))
}
