// Package provider defines the byte store with TTLs backing the local
// Type/TTL cache of the consistency manager.
//
// The local cache is advisory: entries are never invalidated on write and
// only age out by TTL, so a provider may drop entries at any time (eviction,
// admission refusal) without affecting correctness.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. It must be safe for concurrent
// use and byte-for-byte transparent: Get returns exactly the []byte previously
// passed to Set for the same key.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
