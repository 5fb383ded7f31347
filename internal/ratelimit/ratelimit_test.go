package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, config Config, environment string) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, config, environment, nil)
}

func TestAllowPermitsUpToCapThenRejects(t *testing.T) {
	l := newTestLimiter(t, Config{ProductionCap: 2, DefaultCap: 2}, "production")
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "1.2.3.4", "/api/login"))
	require.True(t, l.Allow(ctx, "1.2.3.4", "/api/login"))
	require.False(t, l.Allow(ctx, "1.2.3.4", "/api/login"))
}

func TestAllowTracksRoutesAndIPsIndependently(t *testing.T) {
	l := newTestLimiter(t, Config{ProductionCap: 1, DefaultCap: 1}, "production")
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "1.2.3.4", "/api/login"))
	require.True(t, l.Allow(ctx, "5.6.7.8", "/api/login"))
	require.True(t, l.Allow(ctx, "1.2.3.4", "/api/register"))
}

func TestAllowUsesWiderCapOutsideProduction(t *testing.T) {
	l := newTestLimiter(t, Config{}, "development")
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		require.True(t, l.Allow(ctx, "1.2.3.4", "/api/login"))
	}
}

func TestAllowFailsOpenWithNilClient(t *testing.T) {
	l := New(nil, Config{ProductionCap: 1}, "production", nil)
	require.True(t, l.Allow(context.Background(), "1.2.3.4", "/api/login"))
	require.True(t, l.Allow(context.Background(), "1.2.3.4", "/api/login"))
}
