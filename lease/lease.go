// Package lease defines time-bound exclusive claims on named resources.
//
// A Locker is a thin contract over a distributed lock primitive. The
// primitive, not the caller, guarantees that at most one unexpired lease
// exists per resource at any instant.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTTL is returned when a lease is requested with a non-positive TTL.
var ErrInvalidTTL = errors.New("lease: ttl must be positive")

// Lease is a held claim on Resource. Token identifies the holder; ID carries a
// backend-specific handle (e.g. an etcd lease id) and is zero when unused.
type Lease struct {
	Resource string
	Token    string
	ID       int64
	TTL      time.Duration
	Expiry   time.Time // local estimate; refreshed on Renew
}

// Expired reports whether the local expiry estimate has passed at now.
func (l *Lease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.Expiry)
}

// Locker acquires, renews and releases leases.
//
// TryAcquire returns (nil, nil) when the resource is held elsewhere and
// acquireTimeout elapsed. Renew returns false when the lease could not be
// extended (held by someone else or already expired). IsValid independently
// confirms that the lease is still held by its token.
type Locker interface {
	TryAcquire(ctx context.Context, resource string, acquireTimeout, ttl time.Duration) (*Lease, error)
	Renew(ctx context.Context, l *Lease) (bool, error)
	IsValid(ctx context.Context, l *Lease) (bool, error)
	Release(ctx context.Context, l *Lease) error
}

// NewToken returns a fresh owner token.
func NewToken() string { return uuid.NewString() }

// RetryInterval is the pause between acquisition attempts inside TryAcquire.
const RetryInterval = 10 * time.Millisecond

// Spin calls attempt until it reports acquired, returns an error, or the
// acquireTimeout elapses. A zero timeout makes exactly one attempt.
func Spin(ctx context.Context, acquireTimeout time.Duration, attempt func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(acquireTimeout)
	for {
		ok, err := attempt(ctx)
		if err != nil || ok {
			return ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		wait := RetryInterval
		if remaining < wait {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
}
