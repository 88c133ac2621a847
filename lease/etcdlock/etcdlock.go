// Package etcdlock implements lease.Locker on etcd.
//
// Every acquisition grants its own etcd lease and attaches the resource key
// to it with a CreateRevision==0 transaction, so the key can only be created
// by one holder. Renew is a single keepalive, Release revokes the lease which
// deletes the key atomically.
package etcdlock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/unkn0wn-root/writebehind/lease"
)

const defaultPrefix = "/writebehind/leases/"

var ErrNilClient = errors.New("etcdlock: nil client")

type Config struct {
	Client *clientv3.Client
	// Prefix is prepended to every resource name. Defaults to /writebehind/leases/.
	Prefix string
	// OpTimeout bounds each etcd round-trip. Defaults to 5s.
	OpTimeout time.Duration
}

type Locker struct {
	cli       *clientv3.Client
	prefix    string
	opTimeout time.Duration
}

var _ lease.Locker = (*Locker)(nil)

func New(cfg Config) (*Locker, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	l := &Locker{cli: cfg.Client, prefix: cfg.Prefix, opTimeout: cfg.OpTimeout}
	if l.prefix == "" {
		l.prefix = defaultPrefix
	}
	if l.opTimeout <= 0 {
		l.opTimeout = 5 * time.Second
	}
	return l, nil
}

func (l *Locker) key(resource string) string { return l.prefix + resource }

// ttlSeconds rounds up; etcd leases have second granularity.
func ttlSeconds(ttl time.Duration) int64 {
	return int64(math.Ceil(ttl.Seconds()))
}

func (l *Locker) TryAcquire(ctx context.Context, resource string, acquireTimeout, ttl time.Duration) (*lease.Lease, error) {
	if ttl <= 0 {
		return nil, lease.ErrInvalidTTL
	}
	token := lease.NewToken()
	key := l.key(resource)
	var id clientv3.LeaseID

	ok, err := lease.Spin(ctx, acquireTimeout, func(ctx context.Context) (bool, error) {
		opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
		defer cancel()

		grant, err := l.cli.Grant(opCtx, ttlSeconds(ttl))
		if err != nil {
			return false, fmt.Errorf("grant lease: %w", err)
		}
		resp, err := l.cli.Txn(opCtx).
			If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
			Then(clientv3.OpPut(key, token, clientv3.WithLease(grant.ID))).
			Commit()
		if err != nil {
			_, _ = l.cli.Revoke(context.Background(), grant.ID)
			return false, fmt.Errorf("lease txn: %w", err)
		}
		if !resp.Succeeded {
			// held elsewhere; do not leak the granted lease
			_, _ = l.cli.Revoke(opCtx, grant.ID)
			return false, nil
		}
		id = grant.ID
		return true, nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return &lease.Lease{
		Resource: resource,
		Token:    token,
		ID:       int64(id),
		TTL:      ttl,
		Expiry:   time.Now().Add(ttl),
	}, nil
}

func (l *Locker) Renew(ctx context.Context, ls *lease.Lease) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	resp, err := l.cli.KeepAliveOnce(opCtx, clientv3.LeaseID(ls.ID))
	if err != nil {
		return false, err
	}
	if resp.TTL <= 0 {
		return false, nil
	}
	ls.Expiry = time.Now().Add(time.Duration(resp.TTL) * time.Second)
	return true, nil
}

func (l *Locker) IsValid(ctx context.Context, ls *lease.Lease) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	resp, err := l.cli.Get(opCtx, l.key(ls.Resource))
	if err != nil {
		return false, err
	}
	if len(resp.Kvs) == 0 {
		return false, nil
	}
	kv := resp.Kvs[0]
	return string(kv.Value) == ls.Token && kv.Lease == ls.ID, nil
}

func (l *Locker) Release(ctx context.Context, ls *lease.Lease) error {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	if _, err := l.cli.Revoke(opCtx, clientv3.LeaseID(ls.ID)); err != nil {
		return fmt.Errorf("revoke lease %s: %w", ls.Resource, err)
	}
	return nil
}
