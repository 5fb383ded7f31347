package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPKCERoundTrip(t *testing.T) {
	verifier, err := NewBase64URLToken(32)
	require.NoError(t, err)
	challenge := S256Challenge(verifier)
	require.True(t, VerifyPKCE(verifier, challenge))

	other, err := NewBase64URLToken(32)
	require.NoError(t, err)
	require.False(t, VerifyPKCE(other, challenge))
}

func TestHashTokenHexIsDeterministic(t *testing.T) {
	require.Equal(t, HashTokenHex("abc"), HashTokenHex("abc"))
	require.NotEqual(t, HashTokenHex("abc"), HashTokenHex("abd"))
	require.Len(t, HashTokenHex("abc"), 64)
}
