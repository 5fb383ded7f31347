package oauthfed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/redirectvalidator"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/tokenkernel"
)

type fakeProvider struct {
	name        string
	configured  bool
	nonce       bool
	profile     Profile
	exchangeErr error
	lastState   string
}

func (p *fakeProvider) Name() string        { return p.name }
func (p *fakeProvider) Configured() bool    { return p.configured }
func (p *fakeProvider) SupportsNonce() bool { return p.nonce }
func (p *fakeProvider) AuthURL(state, pkceChallenge, nonce, redirectURI string) (string, error) {
	p.lastState = state
	return "https://provider.example.com/authorize?state=" + state, nil
}
func (p *fakeProvider) Exchange(ctx context.Context, in ExchangeInput) (Profile, error) {
	return p.profile, p.exchangeErr
}

func newTestFlows(t *testing.T, providers map[string]Provider) (*Flows, *store.Conn) {
	t.Helper()
	conn, err := store.Open(context.Background(), "sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	validator := redirectvalidator.New("production", nil)
	tokens := tokenkernel.New(conn, tokenkernel.Config{}, nil)
	callbackURLOf := func(provider string) string { return "https://auth.centerpiece.shop/oauth/" + provider + "/callback" }
	return New(conn, validator, tokens, providers, callbackURLOf, nil), conn
}

const validRedirect = "https://shop.centerpiece.app/auth/callback"

func TestInitRejectsUnconfiguredProvider(t *testing.T) {
	f, _ := newTestFlows(t, map[string]Provider{"google": &fakeProvider{name: "google", configured: false}})

	_, err := f.Init(context.Background(), "google", validRedirect)
	var flowErr *FlowError
	require.True(t, errors.As(err, &flowErr))
	require.Equal(t, ErrCodeOAuthNotConfigured, flowErr.Code)
}

func TestInitRejectsInvalidRedirect(t *testing.T) {
	f, _ := newTestFlows(t, map[string]Provider{"google": &fakeProvider{name: "google", configured: true}})

	_, err := f.Init(context.Background(), "google", "https://evil.example.com/callback")
	var flowErr *FlowError
	require.True(t, errors.As(err, &flowErr))
	require.Equal(t, ErrCodeInvalidRedirect, flowErr.Code)
}

func TestInitCreatesStateAndReturnsAuthURL(t *testing.T) {
	provider := &fakeProvider{name: "google", configured: true, nonce: true}
	f, _ := newTestFlows(t, map[string]Provider{"google": provider})

	authURL, err := f.Init(context.Background(), "google", validRedirect)
	require.NoError(t, err)
	require.Contains(t, authURL, "https://provider.example.com/authorize?state=")
	require.NotEmpty(t, provider.lastState)
}

func TestCallbackCreatesNewUserOnFirstLogin(t *testing.T) {
	provider := &fakeProvider{name: "google", configured: true, nonce: true, profile: Profile{
		Provider: "google", ProviderAccountID: "g-123", Email: "new@example.com",
		EmailVerified: true, Name: "New User",
	}}
	f, conn := newTestFlows(t, map[string]Provider{"google": provider})
	ctx := context.Background()

	_, err := f.Init(ctx, "google", validRedirect)
	require.NoError(t, err)

	refresh, code, redirectURL, err := f.Callback(ctx, "google", CallbackInput{State: provider.lastState})
	require.NoError(t, err)
	require.NotEmpty(t, refresh.Plaintext)
	require.NotEmpty(t, code)
	require.Equal(t, validRedirect, redirectURL)

	user, err := conn.GetUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	fed, err := conn.GetFederatedIdentity(ctx, "google", "g-123")
	require.NoError(t, err)
	require.Equal(t, user.ID, fed.UserID)
}

func TestCallbackLinksVerifiedEmailToExistingUser(t *testing.T) {
	provider := &fakeProvider{name: "google", configured: true, profile: Profile{
		Provider: "google", ProviderAccountID: "g-999", Email: "existing@example.com",
		EmailVerified: true, Name: "Existing",
	}}
	f, conn := newTestFlows(t, map[string]Provider{"google": provider})
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, conn.CreateUser(ctx, store.User{
		ID: "u-existing", Email: "existing@example.com", Name: "", CreatedAt: now, UpdatedAt: now,
	}))

	_, err := f.Init(ctx, "google", validRedirect)
	require.NoError(t, err)

	_, _, _, err = f.Callback(ctx, "google", CallbackInput{State: provider.lastState})
	require.NoError(t, err)

	fed, err := conn.GetFederatedIdentity(ctx, "google", "g-999")
	require.NoError(t, err)
	require.Equal(t, "u-existing", fed.UserID)

	user, err := conn.GetUserByID(ctx, "u-existing")
	require.NoError(t, err)
	require.True(t, user.EmailVerified)
	require.Equal(t, "Existing", user.Name) // backfilled since it was empty
}

func TestCallbackCreatesSeparateUserForUnverifiedEmailCollision(t *testing.T) {
	provider := &fakeProvider{name: "google", configured: true, profile: Profile{
		Provider: "google", ProviderAccountID: "g-attacker", Email: "victim@example.com",
		EmailVerified: false, Name: "Attacker",
	}}
	f, conn := newTestFlows(t, map[string]Provider{"google": provider})
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, conn.CreateUser(ctx, store.User{
		ID: "u-victim", Email: "victim@example.com", Name: "Victim", CreatedAt: now, UpdatedAt: now,
	}))

	_, err := f.Init(ctx, "google", validRedirect)
	require.NoError(t, err)

	_, _, _, err = f.Callback(ctx, "google", CallbackInput{State: provider.lastState})
	require.NoError(t, err)

	fed, err := conn.GetFederatedIdentity(ctx, "google", "g-attacker")
	require.NoError(t, err)
	require.NotEqual(t, "u-victim", fed.UserID)
}

func TestCallbackRejectsReplayedState(t *testing.T) {
	provider := &fakeProvider{name: "google", configured: true, profile: Profile{
		Provider: "google", ProviderAccountID: "g-1", Email: "a@example.com", EmailVerified: true,
	}}
	f, _ := newTestFlows(t, map[string]Provider{"google": provider})
	ctx := context.Background()

	_, err := f.Init(ctx, "google", validRedirect)
	require.NoError(t, err)

	_, _, _, err = f.Callback(ctx, "google", CallbackInput{State: provider.lastState})
	require.NoError(t, err)

	_, _, _, err = f.Callback(ctx, "google", CallbackInput{State: provider.lastState})
	var flowErr *FlowError
	require.True(t, errors.As(err, &flowErr))
	require.Equal(t, ErrCodeInvalidState, flowErr.Code)
}

func TestCallbackPropagatesProviderError(t *testing.T) {
	f, _ := newTestFlows(t, map[string]Provider{"google": &fakeProvider{name: "google", configured: true}})

	_, _, _, err := f.Callback(context.Background(), "google", CallbackInput{ProviderError: "access_denied"})
	var flowErr *FlowError
	require.True(t, errors.As(err, &flowErr))
	require.Equal(t, ErrCodeProviderError, flowErr.Code)
}
