// Package redislock implements lease.Locker on a Redis-compatible server.
//
// A lease is a string key holding the owner token with a PX expiry. Renewal
// and release compare the token server-side so a process can never extend or
// drop a lease someone else acquired after its own expired.
package redislock

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/writebehind/lease"
)

var ErrNilClient = errors.New("redislock: nil client")

var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Locker hands out token-guarded leases stored as plain Redis keys.
type Locker struct {
	rdb goredis.UniversalClient
}

var _ lease.Locker = (*Locker)(nil)

// New returns a Locker on client.
func New(client goredis.UniversalClient) (*Locker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Locker{rdb: client}, nil
}

// TryAcquire retries SET NX until acquireTimeout and returns nil when the
// resource stays held by someone else.
func (l *Locker) TryAcquire(ctx context.Context, resource string, acquireTimeout, ttl time.Duration) (*lease.Lease, error) {
	if ttl <= 0 {
		return nil, lease.ErrInvalidTTL
	}
	token := lease.NewToken()
	ok, err := lease.Spin(ctx, acquireTimeout, func(ctx context.Context) (bool, error) {
		return l.rdb.SetNX(ctx, resource, token, ttl).Result()
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &lease.Lease{Resource: resource, Token: token, TTL: ttl, Expiry: time.Now().Add(ttl)}, nil
}

// Renew extends ls by its TTL if the key still holds ls.Token.
func (l *Locker) Renew(ctx context.Context, ls *lease.Lease) (bool, error) {
	n, err := renewScript.Run(ctx, l.rdb, []string{ls.Resource}, ls.Token, ls.TTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	ls.Expiry = time.Now().Add(ls.TTL)
	return true, nil
}

// IsValid reports whether the key still holds ls.Token.
func (l *Locker) IsValid(ctx context.Context, ls *lease.Lease) (bool, error) {
	v, err := l.rdb.Get(ctx, ls.Resource).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == ls.Token, nil
}

// Release deletes the key only if it still holds ls.Token.
func (l *Locker) Release(ctx context.Context, ls *lease.Lease) error {
	return releaseScript.Run(ctx, l.rdb, []string{ls.Resource}, ls.Token).Err()
}
