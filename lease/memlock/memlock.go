// Package memlock is an in-process lease.Locker. Lockers created from the same
// Table contend for the same resources, which makes it suitable for simulating
// a fleet of cooperating processes inside one test binary.
package memlock

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/writebehind/lease"
)

type holder struct {
	token  string
	expiry time.Time
}

// Table is the shared lock state.
type Table struct {
	mu    sync.Mutex
	locks map[string]holder
	now   func() time.Time
}

// NewTable creates an empty lock table using the wall clock.
func NewTable() *Table {
	return &Table{locks: make(map[string]holder), now: time.Now}
}

// SetClock overrides the clock used for expiry decisions.
func (t *Table) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Expire force-expires the lease on resource, as if its holder missed renewals.
func (t *Table) Expire(resource string) {
	t.mu.Lock()
	delete(t.locks, resource)
	t.mu.Unlock()
}

// Holder returns the token currently holding resource, or "".
func (t *Table) Holder(resource string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.locks[resource]
	if !ok || !t.now().Before(h.expiry) {
		return ""
	}
	return h.token
}

// Locker returns a lease.Locker bound to this table.
func (t *Table) Locker() *Locker { return &Locker{t: t} }

// Locker implements lease.Locker over a Table.
type Locker struct {
	t *Table
}

var _ lease.Locker = (*Locker)(nil)

func (l *Locker) TryAcquire(ctx context.Context, resource string, acquireTimeout, ttl time.Duration) (*lease.Lease, error) {
	if ttl <= 0 {
		return nil, lease.ErrInvalidTTL
	}
	token := lease.NewToken()
	var expiry time.Time
	ok, err := lease.Spin(ctx, acquireTimeout, func(context.Context) (bool, error) {
		l.t.mu.Lock()
		defer l.t.mu.Unlock()
		now := l.t.now()
		if h, held := l.t.locks[resource]; held && now.Before(h.expiry) {
			return false, nil
		}
		expiry = now.Add(ttl)
		l.t.locks[resource] = holder{token: token, expiry: expiry}
		return true, nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return &lease.Lease{Resource: resource, Token: token, TTL: ttl, Expiry: expiry}, nil
}

func (l *Locker) Renew(_ context.Context, ls *lease.Lease) (bool, error) {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	now := l.t.now()
	h, ok := l.t.locks[ls.Resource]
	if !ok || h.token != ls.Token || !now.Before(h.expiry) {
		return false, nil
	}
	h.expiry = now.Add(ls.TTL)
	l.t.locks[ls.Resource] = h
	ls.Expiry = h.expiry
	return true, nil
}

func (l *Locker) IsValid(_ context.Context, ls *lease.Lease) (bool, error) {
	return l.t.Holder(ls.Resource) == ls.Token, nil
}

func (l *Locker) Release(_ context.Context, ls *lease.Lease) error {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if h, ok := l.t.locks[ls.Resource]; ok && h.token == ls.Token {
		delete(l.t.locks, ls.Resource)
	}
	return nil
}
