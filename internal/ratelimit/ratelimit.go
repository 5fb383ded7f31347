// Package ratelimit implements the per-IP, per-route counter at the HTTP
// boundary: a floored 15-minute window, capped at 10 in production and 200
// otherwise, failing open on storage errors because availability outranks
// strictness for unauthenticated traffic.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is the fixed bucket width used to floor the counter key.
const Window = 15 * time.Minute

const keyPrefix = "ratelimit:"

const requestTimeout = 2 * time.Second

// Config holds the request caps for each environment.
type Config struct {
	ProductionCap int
	DefaultCap    int
}

func (c Config) capFor(environment string) int {
	if environment == "production" {
		if c.ProductionCap > 0 {
			return c.ProductionCap
		}
		return 10
	}
	if c.DefaultCap > 0 {
		return c.DefaultCap
	}
	return 200
}

// Clock abstracts time.Now for deterministic window-flooring tests.
type Clock func() time.Time

// Limiter enforces the per-IP/per-route counter.
type Limiter struct {
	client      redis.UniversalClient
	config      Config
	environment string
	now         Clock
}

// New constructs a Limiter. now defaults to time.Now when nil. A nil client
// makes every call to Allow fail open, useful for tests and for running
// without Redis configured.
func New(client redis.UniversalClient, config Config, environment string, now Clock) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{client: client, config: config, environment: environment, now: now}
}

// Allow reports whether a request from ip against route may proceed. Any
// Redis error is swallowed and treated as allowed (fail open); only the
// cap-exceeded case returns false.
func (l *Limiter) Allow(ctx context.Context, ip, route string) bool {
	if l.client == nil {
		return true
	}

	window := l.now().UTC().Unix() / int64(Window.Seconds())
	key := fmt.Sprintf("%s%s:%s:%d", keyPrefix, route, ip, window)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		l.client.Expire(ctx, key, Window)
	}

	return count <= int64(l.config.capFor(l.environment))
}
