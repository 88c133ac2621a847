package writebehind

import (
	"context"
	"time"
)

const (
	defaultQueuePrefix     = "wb:q:"
	defaultPartitions      = 16
	defaultCheckInterval   = 5 * time.Second
	defaultLeaseTTL        = 30 * time.Second
	defaultAcquireTimeout  = 100 * time.Millisecond
	defaultBatchSize       = 200
	defaultIdleInterval    = 100 * time.Millisecond
	defaultRetryBackoff    = 100 * time.Millisecond
	defaultRetryMaxBackoff = 5 * time.Second
	defaultDrainAttempts   = 3
	defaultDrainTimeout    = 10 * time.Second
	defaultTypeCacheTTL    = 10 * time.Second
	defaultExpireWorkers   = 4
	defaultExpireQueueSize = 10000
	defaultExpireTimeout   = 5 * time.Second
	defaultZSetTTLCap      = 3 * 24 * time.Hour

	requeueTimeout = 5 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// nextBackoff doubles cur up to limit.
func nextBackoff(cur, limit time.Duration) time.Duration {
	cur *= 2
	if cur > limit || cur <= 0 {
		return limit
	}
	return cur
}

// sleepCtx waits d or until ctx is done. It reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
