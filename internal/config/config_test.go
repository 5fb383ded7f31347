package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("ACCESS_TOKEN_TTL_SECONDS", "")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "")
	t.Setenv("AUTH_CODE_TTL_SECONDS", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 30*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 60*time.Second, cfg.AuthCodeTTL)
	require.Equal(t, "common", cfg.Microsoft.Tenant)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ACCESS_TOKEN_TTL_SECONDS", "60")
	t.Setenv("AUTH_DOMAIN", "https://auth.centerpiece.shop")
	t.Setenv("GOOGLE_CLIENT_ID", "gid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "gsecret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, "https://auth.centerpiece.shop", cfg.AuthDomain)
	require.Equal(t, "gid", cfg.Google.ClientID)
	require.Equal(t, "gsecret", cfg.Google.ClientSecret)
}

func TestLoadRejectsNonIntegerTTL(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_SECONDS", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}
