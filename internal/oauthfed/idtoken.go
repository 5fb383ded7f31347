package oauthfed

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
)

// IDTokenClaims is the subset of an OIDC ID token's claims the federation
// flow validates.
type IDTokenClaims struct {
	Issuer        string `json:"iss"`
	Subject       string `json:"sub"`
	Audience      string `json:"aud"`
	Expiry        int64  `json:"exp"`
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"` // google/microsoft send bool; apple sends a string
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Nonce         string `json:"nonce"`
}

// EmailVerifiedBool normalizes the email_verified claim: providers disagree
// on whether it is a JSON bool or a string "true"/"false".
func (c IDTokenClaims) EmailVerifiedBool() bool {
	switch v := c.EmailVerified.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// ParseUnverifiedIDToken decodes an ID token's claims without checking its
// signature: the token was received directly over TLS from the provider's
// token endpoint, the standard posture for a confidential client.
func ParseUnverifiedIDToken(rawIDToken string) (IDTokenClaims, error) {
	tok, err := jwt.ParseSigned(rawIDToken, []jwt.SignatureAlgorithm{
		jwt.RS256, jwt.ES256, jwt.PS256,
	})
	if err != nil {
		return IDTokenClaims{}, fmt.Errorf("oauthfed: parse id token: %w", err)
	}
	var claims IDTokenClaims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return IDTokenClaims{}, fmt.Errorf("oauthfed: decode id token claims: %w", err)
	}
	return claims, nil
}

// errIssuerMismatch, errAudienceMismatch, errTokenExpired, errNonceMismatch
// are the distinguishable ID-token validation failures; the federation flow
// collapses all of them to ErrCodeProfileRejected before they reach a
// response.
var (
	errIssuerMismatch   = fmt.Errorf("oauthfed: id token issuer mismatch")
	errAudienceMismatch = fmt.Errorf("oauthfed: id token audience mismatch")
	errTokenExpired     = fmt.Errorf("oauthfed: id token expired")
	errNonceMismatch    = fmt.Errorf("oauthfed: id token nonce mismatch")
)

// ValidateClaims checks issuer, audience, expiry and nonce. issuerPattern is
// matched as an exact string unless it looks like a regexp (Microsoft's
// tenant-specific issuers), in which case it is compiled and matched.
func ValidateClaims(claims IDTokenClaims, issuerPattern, clientID, wantNonce string, now time.Time) error {
	if !matchIssuer(issuerPattern, claims.Issuer) {
		return errIssuerMismatch
	}
	if claims.Audience != clientID {
		return errAudienceMismatch
	}
	if now.After(time.Unix(claims.Expiry, 0).UTC()) {
		return errTokenExpired
	}
	if wantNonce != "" && claims.Nonce != wantNonce {
		return errNonceMismatch
	}
	return nil
}

func matchIssuer(pattern, issuer string) bool {
	if pattern == issuer {
		return true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(issuer)
}
