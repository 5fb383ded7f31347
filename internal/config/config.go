// Package config loads the flat environment-variable configuration surface:
// every field is read directly with os.Getenv and a typed default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Environment string
	AuthDomain  string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration

	JWTPrivateKeyPEM string
	JWTPublicKeyPEM  string
	JWTKeyID         string

	EmailFrom     string
	EmailFromName string

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr string

	Google    OAuthCredentials
	Facebook  OAuthCredentials
	Microsoft MicrosoftCredentials
	Apple     AppleCredentials
}

// OAuthCredentials is the client id/secret pair common to Google/Facebook.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
}

// MicrosoftCredentials adds the tenant Microsoft's adapter needs.
type MicrosoftCredentials struct {
	OAuthCredentials
	Tenant string
}

// AppleCredentials carries what minting Apple's on-the-fly client secret
// needs: team id, key id and the ES256 private key.
type AppleCredentials struct {
	ClientID         string
	TeamID           string
	KeyID            string
	PrivateKeyPEMB64 string
}

const (
	defaultAccessTokenTTLSeconds = 900
	defaultRefreshTokenTTLDays   = 30
	defaultAuthCodeTTLSeconds    = 60
)

// Load reads every recognized key from the process environment.
func Load() (Config, error) {
	accessTTL, err := envSeconds("ACCESS_TOKEN_TTL_SECONDS", defaultAccessTokenTTLSeconds)
	if err != nil {
		return Config{}, err
	}
	authCodeTTL, err := envSeconds("AUTH_CODE_TTL_SECONDS", defaultAuthCodeTTLSeconds)
	if err != nil {
		return Config{}, err
	}
	refreshTTLDays, err := envInt("REFRESH_TOKEN_TTL_DAYS", defaultRefreshTokenTTLDays)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Environment: envOr("ENVIRONMENT", "development"),
		AuthDomain:  envOr("AUTH_DOMAIN", "http://localhost:8080"),

		AccessTokenTTL:  time.Duration(accessTTL) * time.Second,
		RefreshTokenTTL: time.Duration(refreshTTLDays) * 24 * time.Hour,
		AuthCodeTTL:     time.Duration(authCodeTTL) * time.Second,

		JWTPrivateKeyPEM: os.Getenv("JWT_PRIVATE_KEY"),
		JWTPublicKeyPEM:  os.Getenv("JWT_PUBLIC_KEY"),
		JWTKeyID:         envOr("JWT_KEY_ID", "default"),

		EmailFrom:     os.Getenv("EMAIL_FROM"),
		EmailFromName: os.Getenv("EMAIL_FROM_NAME"),

		DatabaseDriver: envOr("DATABASE_DRIVER", "sqlite3"),
		DatabaseDSN:    envOr("DATABASE_DSN", ":memory:"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		Google: OAuthCredentials{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		},
		Facebook: OAuthCredentials{
			ClientID:     os.Getenv("FACEBOOK_CLIENT_ID"),
			ClientSecret: os.Getenv("FACEBOOK_CLIENT_SECRET"),
		},
		Microsoft: MicrosoftCredentials{
			OAuthCredentials: OAuthCredentials{
				ClientID:     os.Getenv("MICROSOFT_CLIENT_ID"),
				ClientSecret: os.Getenv("MICROSOFT_CLIENT_SECRET"),
			},
			Tenant: envOr("MICROSOFT_TENANT", "common"),
		},
		Apple: AppleCredentials{
			ClientID:         os.Getenv("APPLE_CLIENT_ID"),
			TeamID:           os.Getenv("APPLE_TEAM_ID"),
			KeyID:            os.Getenv("APPLE_KEY_ID"),
			PrivateKeyPEMB64: os.Getenv("APPLE_PRIVATE_KEY"),
		},
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func envSeconds(key string, fallback int) (int, error) {
	return envInt(key, fallback)
}
