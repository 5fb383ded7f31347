// Package redirectvalidator classifies a candidate redirect URL as allowed
// and derives the authoritative tenant identity bound to it: scheme and
// host rules, a controlled-suffix allowlist, and an optional per-tenant
// domain lookup.
package redirectvalidator

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidRedirect is the single abstract rejection reason every rule in
// this package returns; callers map it to the invalid_redirect user-visible
// error code.
var ErrInvalidRedirect = errors.New("redirectvalidator: invalid redirect URL")

// TenantRecord is what a successful domain lookup returns.
type TenantRecord struct {
	ID string
}

// TenantLookup is the KV-like surface over tenant domain registrations the
// validator consults for case (b) of rule 6. Keys look like "domain:<host>".
type TenantLookup interface {
	LookupTenantDomain(ctx context.Context, host string) (TenantRecord, bool, error)
}

// UnknownTenantID is the sentinel tenant id used when a redirect matches a
// controlled suffix but no domain lookup also resolves it.
const UnknownTenantID = "__unknown__"

// controlledSuffixes are domain tails always accepted without a per-tenant
// lookup.
var controlledSuffixes = []string{
	".centerpiece.shop",
	".centerpiece.app",
	".centerpiece.io",
	".centerpiecelab.com",
	".workers.dev",
	".pages.dev",
}

// Result is a validated redirect: its origin and the tenant id it resolves to.
type Result struct {
	Origin   string
	TenantID string
}

// Validator applies the redirect rules against one deployment environment.
type Validator struct {
	// Environment is the deployment environment string. Only "production"
	// gates out dev-only redirects; any other value (including empty) is
	// treated as non-prod.
	Environment string
	Lookup      TenantLookup
}

// New constructs a Validator.
func New(environment string, lookup TenantLookup) *Validator {
	return &Validator{Environment: environment, Lookup: lookup}
}

func (v *Validator) isProduction() bool {
	return v.Environment == "production"
}

// Validate classifies rawURL against the validator's ordered rule list.
func (v *Validator) Validate(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, ErrInvalidRedirect
	}

	if u.Scheme == "javascript" {
		return Result{}, ErrInvalidRedirect
	}

	host := u.Hostname()
	isDevLoopback := !v.isProduction() && u.Scheme == "http" && (host == "localhost" || host == "127.0.0.1")

	switch u.Scheme {
	case "https":
		// always fine
	case "http":
		if !isDevLoopback {
			return Result{}, ErrInvalidRedirect
		}
	default:
		return Result{}, ErrInvalidRedirect
	}

	if isIPLiteral(host) && !(isDevLoopback && host == "127.0.0.1") {
		return Result{}, ErrInvalidRedirect
	}

	if u.Fragment != "" {
		return Result{}, ErrInvalidRedirect
	}

	tenantID, ok, err := v.resolveTenant(ctx, host)
	if err != nil {
		return Result{}, ErrInvalidRedirect
	}
	if !ok {
		return Result{}, ErrInvalidRedirect
	}

	return Result{Origin: origin(u), TenantID: tenantID}, nil
}

// resolveTenant implements rule 6: controlled-suffix membership OR a
// successful tenant domain lookup. Case (b)'s id is authoritative; case (a)
// falls back to UnknownTenantID unless a domain lookup also succeeds.
func (v *Validator) resolveTenant(ctx context.Context, host string) (tenantID string, ok bool, err error) {
	var lookupID string
	var lookupOK bool
	if v.Lookup != nil {
		rec, found, lookupErr := v.Lookup.LookupTenantDomain(ctx, host)
		if lookupErr != nil {
			return "", false, lookupErr
		}
		if found {
			lookupID, lookupOK = rec.ID, true
		}
	}

	if hasControlledSuffix(host) {
		if lookupOK {
			return lookupID, true, nil
		}
		return UnknownTenantID, true, nil
	}

	if lookupOK {
		return lookupID, true, nil
	}
	return "", false, nil
}

// IsControlledOrigin reports whether rawOrigin's host falls under one of the
// controlled suffixes, independent of any tenant-domain lookup. Used by the
// HTTP boundary's CORS preflight check, which reuses this same
// controlled-suffix list without needing a full Validate (no
// fragment/fullpath semantics apply to an Origin header).
func IsControlledOrigin(rawOrigin string) bool {
	u, err := url.Parse(rawOrigin)
	if err != nil || u.Scheme != "https" {
		return false
	}
	return hasControlledSuffix(u.Hostname())
}

func hasControlledSuffix(host string) bool {
	for _, suffix := range controlledSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// isIPLiteral reports whether host is an IP literal: bracketed IPv6 or four
// dot-separated 1-3 digit groups. net.ParseIP handles both forms once
// url.Hostname() has already stripped IPv6 brackets.
func isIPLiteral(host string) bool {
	return net.ParseIP(host) != nil
}

func origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
