package store

import (
	"context"
	"fmt"
	"time"
)

// GCResult reports how many expired rows a GarbageCollect pass reclaimed.
type GCResult struct {
	AuthCodes        int64
	FederationStates int64
}

// GarbageCollect deletes expired auth-code and federation-state rows.
// Sweeping exists purely to reclaim storage; every consumer of these tables
// already checks expires_at explicitly, so a sweep lagging or failing never
// causes an incorrect accept.
func (c *Conn) GarbageCollect(ctx context.Context, now time.Time) (GCResult, error) {
	var result GCResult

	res, err := c.exec(ctx, `delete from auth_codes where expires_at < $1;`, now)
	if err != nil {
		return result, fmt.Errorf("store: gc auth_codes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.AuthCodes = n
	}

	res, err = c.exec(ctx, `delete from federation_states where expires_at < $1;`, now)
	if err != nil {
		return result, fmt.Errorf("store: gc federation_states: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.FederationStates = n
	}

	return result, nil
}

// Ping is a liveness probe used by the /health endpoint's data-store check.
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
