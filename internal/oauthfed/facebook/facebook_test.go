package facebook

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfiguredReflectsCredentials(t *testing.T) {
	require.False(t, New(Config{}, nil).Configured())
	require.True(t, New(Config{ClientID: "id", ClientSecret: "secret"}, nil).Configured())
}

func TestAuthURLHasNoNonceParam(t *testing.T) {
	a := New(Config{ClientID: "client-1", ClientSecret: "secret"}, nil)
	require.False(t, a.SupportsNonce())

	raw, err := a.AuthURL("state-1", "challenge-1", "", "https://auth.centerpiece.shop/oauth/facebook/callback")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	require.Empty(t, parsed.Query().Get("nonce"))
	require.Equal(t, "challenge-1", parsed.Query().Get("code_challenge"))
}
