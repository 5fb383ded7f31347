package redirectvalidator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticLookup map[string]TenantRecord

func (s staticLookup) LookupTenantDomain(ctx context.Context, host string) (TenantRecord, bool, error) {
	rec, ok := s[host]
	return rec, ok, nil
}

func TestValidateAcceptsControlledSuffix(t *testing.T) {
	v := New("production", nil)
	res, err := v.Validate(context.Background(), "https://shop.centerpiece.app/callback")
	require.NoError(t, err)
	require.Equal(t, "https://shop.centerpiece.app", res.Origin)
	require.Equal(t, UnknownTenantID, res.TenantID)
}

func TestValidateAcceptsTenantDomainLookup(t *testing.T) {
	lookup := staticLookup{"shop.example.com": TenantRecord{ID: "tenant-7"}}
	v := New("production", lookup)
	res, err := v.Validate(context.Background(), "https://shop.example.com/callback")
	require.NoError(t, err)
	require.Equal(t, "tenant-7", res.TenantID)
}

func TestValidateRejectsUnknownHost(t *testing.T) {
	v := New("production", staticLookup{})
	_, err := v.Validate(context.Background(), "https://evil.example.com/callback")
	require.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestValidateRejectsJavascriptScheme(t *testing.T) {
	v := New("production", nil)
	_, err := v.Validate(context.Background(), "javascript:alert(1)//centerpiece.app")
	require.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestValidateRejectsHTTPInProduction(t *testing.T) {
	v := New("production", nil)
	_, err := v.Validate(context.Background(), "http://shop.centerpiece.app/callback")
	require.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestValidateAllowsLoopbackHTTPOutsideProduction(t *testing.T) {
	v := New("development", nil)
	res, err := v.Validate(context.Background(), "http://localhost:3000/callback")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:3000", res.Origin)
}

func TestValidateRejectsIPLiteralHost(t *testing.T) {
	v := New("development", nil)
	_, err := v.Validate(context.Background(), "http://203.0.113.5/callback")
	require.ErrorIs(t, err, ErrInvalidRedirect)

	_, err = v.Validate(context.Background(), "https://[2001:db8::1]/callback")
	require.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestValidateRejectsHTTPSIPLiteralOutsideProduction(t *testing.T) {
	v := New("development", nil)
	_, err := v.Validate(context.Background(), "https://127.0.0.1/callback")
	require.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestValidateRejectsFragment(t *testing.T) {
	v := New("production", nil)
	_, err := v.Validate(context.Background(), "https://shop.centerpiece.app/callback#token=x")
	require.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestValidateRejectsMalformedURL(t *testing.T) {
	v := New("production", nil)
	_, err := v.Validate(context.Background(), "://not-a-url")
	require.ErrorIs(t, err, ErrInvalidRedirect)
}
