// Package jwtkernel signs and verifies the two access-token shapes the
// service issues, and serves the JWKS discovery document downstream
// verifiers use to check them.
package jwtkernel

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/cryptoutil"
)

// Audience distinguishes the two access-token payload shapes.
type Audience string

const (
	AudienceStorefront Audience = "storefront"
	AudienceAdmin      Audience = "admin"
)

// DefaultAccessTokenTTL is used when Config.AccessTokenTTL is zero.
const DefaultAccessTokenTTL = 15 * time.Minute

// JWKSMaxAge is the Cache-Control max-age the discovery document is served
// with.
const JWKSMaxAge = time.Hour

// ErrWrongAudience is returned by Verify when the token's aud claim does not
// match the audience the caller asked to verify against.
var ErrWrongAudience = errors.New("jwtkernel: unexpected token audience")

// Config holds the kernel's non-key settings.
type Config struct {
	Issuer         string
	AccessTokenTTL time.Duration
}

func (c Config) ttl() time.Duration {
	if c.AccessTokenTTL <= 0 {
		return DefaultAccessTokenTTL
	}
	return c.AccessTokenTTL
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Kernel signs and verifies access tokens with a single ES256 key.
type Kernel struct {
	key    *cryptoutil.SigningKey
	config Config
	now    Clock
}

// New constructs a Kernel. now defaults to time.Now when nil.
func New(key *cryptoutil.SigningKey, config Config, now Clock) *Kernel {
	if now == nil {
		now = time.Now
	}
	return &Kernel{key: key, config: config, now: now}
}

// storefrontClaims is the payload shape for the storefront audience. jti,
// primaryTenantId and roles must be absent here: downstream verifiers rely
// on that format-stability invariant to distinguish the two audiences.
type storefrontClaims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Audience  string `json:"aud"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// adminClaims is the payload shape for the admin audience: carries a jti for
// downstream auditing plus the roles the user holds at their primary tenant.
type adminClaims struct {
	Subject         string   `json:"sub"`
	Email           string   `json:"email"`
	Name            string   `json:"name"`
	JTI             string   `json:"jti"`
	PrimaryTenantID *string  `json:"primaryTenantId"`
	Roles           []string `json:"roles"`
	Audience        string   `json:"aud"`
	Issuer          string   `json:"iss"`
	IssuedAt        int64    `json:"iat"`
	ExpiresAt       int64    `json:"exp"`
}

// StorefrontParams is the input to IssueStorefrontToken.
type StorefrontParams struct {
	UserID string
	Email  string
	Name   string
}

// IssueStorefrontToken signs a storefront-audience access token.
func (k *Kernel) IssueStorefrontToken(p StorefrontParams) (string, error) {
	now := k.now().UTC()
	claims := storefrontClaims{
		Subject:   p.UserID,
		Email:     p.Email,
		Name:      p.Name,
		Audience:  string(AudienceStorefront),
		Issuer:    k.config.Issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(k.config.ttl()).Unix(),
	}
	return k.sign(claims)
}

// AdminParams is the input to IssueAdminToken. PrimaryTenantID is nil when
// the user holds no non-customer membership anywhere.
type AdminParams struct {
	UserID          string
	Email           string
	Name            string
	JTI             string
	PrimaryTenantID *string
	Roles           []string
}

// IssueAdminToken signs an admin-audience access token.
func (k *Kernel) IssueAdminToken(p AdminParams) (string, error) {
	now := k.now().UTC()
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	claims := adminClaims{
		Subject:         p.UserID,
		Email:           p.Email,
		Name:            p.Name,
		JTI:             p.JTI,
		PrimaryTenantID: p.PrimaryTenantID,
		Roles:           roles,
		Audience:        string(AudienceAdmin),
		Issuer:          k.config.Issuer,
		IssuedAt:        now.Unix(),
		ExpiresAt:       now.Add(k.config.ttl()).Unix(),
	}
	return k.sign(claims)
}

func (k *Kernel) sign(claims interface{}) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("jwtkernel: marshal claims: %w", err)
	}
	return k.key.SignCompactJWS(payload)
}

// VerifiedClaims is the audience-agnostic view callers get back from Verify.
type VerifiedClaims struct {
	Subject         string
	Email           string
	Name            string
	Audience        Audience
	JTI             string  // admin only
	PrimaryTenantID *string // admin only
	Roles           []string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// Verify checks a compact JWS's signature and expiry and, if wantAudience is
// non-empty, that its aud claim matches. Used internally by the memberships
// endpoint to authenticate a Bearer access token.
func (k *Kernel) Verify(compact string, wantAudience Audience) (VerifiedClaims, error) {
	pub, ok := k.key.PrivateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return VerifiedClaims{}, errors.New("jwtkernel: signing key has no ECDSA public half")
	}
	payload, err := cryptoutil.VerifyCompactJWS(compact, pub)
	if err != nil {
		return VerifiedClaims{}, err
	}

	var probe struct {
		Audience string `json:"aud"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return VerifiedClaims{}, fmt.Errorf("jwtkernel: unmarshal claims: %w", err)
	}
	if wantAudience != "" && probe.Audience != string(wantAudience) {
		return VerifiedClaims{}, ErrWrongAudience
	}

	var out VerifiedClaims
	switch Audience(probe.Audience) {
	case AudienceAdmin:
		var c adminClaims
		if err := json.Unmarshal(payload, &c); err != nil {
			return VerifiedClaims{}, fmt.Errorf("jwtkernel: unmarshal admin claims: %w", err)
		}
		out = VerifiedClaims{
			Subject: c.Subject, Email: c.Email, Name: c.Name, Audience: AudienceAdmin, JTI: c.JTI,
			PrimaryTenantID: c.PrimaryTenantID, Roles: c.Roles,
			IssuedAt: time.Unix(c.IssuedAt, 0).UTC(), ExpiresAt: time.Unix(c.ExpiresAt, 0).UTC(),
		}
	default:
		var c storefrontClaims
		if err := json.Unmarshal(payload, &c); err != nil {
			return VerifiedClaims{}, fmt.Errorf("jwtkernel: unmarshal storefront claims: %w", err)
		}
		out = VerifiedClaims{
			Subject: c.Subject, Email: c.Email, Name: c.Name, Audience: AudienceStorefront,
			IssuedAt: time.Unix(c.IssuedAt, 0).UTC(), ExpiresAt: time.Unix(c.ExpiresAt, 0).UTC(),
		}
	}

	if k.now().UTC().After(out.ExpiresAt) {
		return VerifiedClaims{}, errors.New("jwtkernel: access token expired")
	}
	return out, nil
}

// AccessTokenTTLSeconds reports the configured access-token lifetime, for
// callers building the token-exchange response body's expires_in field.
func (k *Kernel) AccessTokenTTLSeconds() int {
	return int(k.config.ttl().Seconds())
}

// JWKSDocument renders the discovery document: the public half of the
// signing key plus the Cache-Control/ETag headers the HTTP layer must set.
func (k *Kernel) JWKSDocument() (body []byte, etag string, err error) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{k.key.PublicJWK()}}
	body, err = json.Marshal(set)
	if err != nil {
		return nil, "", fmt.Errorf("jwtkernel: marshal JWKS: %w", err)
	}
	sum := sha256.Sum256(body)
	return body, `"` + hex.EncodeToString(sum[:]) + `"`, nil
}
