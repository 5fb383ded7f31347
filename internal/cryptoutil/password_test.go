package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, VerifyPassword("correct horse battery staple", hash))
	require.False(t, VerifyPassword("wrong password", hash))
}

func TestVerifyPasswordRejectsMalformedRecord(t *testing.T) {
	require.False(t, VerifyPassword("anything", "not-a-valid-record"))
	require.False(t, VerifyPassword("anything", "pbkdf2:abc:zz:zz"))
	require.False(t, VerifyPassword("anything", "bcrypt:10:aa:bb"))
}

func TestHashPasswordUniqueSalt(t *testing.T) {
	h1, err := HashPassword("samepassword")
	require.NoError(t, err)
	h2, err := HashPassword("samepassword")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}
