package ratelimit

import (
	"context"
	"time"

	"github.com/ulule/limiter/v3"
	memstore "github.com/ulule/limiter/v3/drivers/store/memory"
)

// MemoryLimiter is a fixed-window limiter kept in process memory. It backs
// single-instance deployments that run without Redis.
type MemoryLimiter struct {
	store limiter.Store
}

// NewMemoryLimiter returns a MemoryLimiter with its own store.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{store: memstore.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "checkout",
		CleanUpInterval: time.Minute,
	})}
}

// Allow implements Allower.
func (l *MemoryLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if l == nil || l.store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := limiter.New(l.store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
