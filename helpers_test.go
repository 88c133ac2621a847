package writebehind

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/writebehind/cachestore"
	pr "github.com/unkn0wn-root/writebehind/provider"
	"github.com/unkn0wn-root/writebehind/record"
)

// fakeCache is an in-memory cachestore.Store with a settable clock.
type fakeCache struct {
	mu      sync.Mutex
	now     func() time.Time
	keys    map[string]*cacheEntry
	expires map[string]expireCall

	// expireErr, when set, fails pipelined EXPIRE and PEXPIRE replies.
	expireErr error
}

type cacheEntry struct {
	typ string
	exp time.Time // zero => no TTL
}

type expireCall struct {
	cmd string
	ttl time.Duration
}

var _ cachestore.Store = (*fakeCache)(nil)

func newFakeCache(now func() time.Time) *fakeCache {
	return &fakeCache{now: now, keys: make(map[string]*cacheEntry), expires: make(map[string]expireCall)}
}

func (c *fakeCache) set(key, typ string) {
	c.mu.Lock()
	c.keys[key] = &cacheEntry{typ: typ}
	c.mu.Unlock()
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live(key) != nil
}

func (c *fakeCache) lastExpire(key string) expireCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expires[key]
}

func (c *fakeCache) live(key string) *cacheEntry {
	e, ok := c.keys[key]
	if !ok {
		return nil
	}
	if !e.exp.IsZero() && !c.now().Before(e.exp) {
		delete(c.keys, key)
		return nil
	}
	return e
}

func (c *fakeCache) typeOf(key string) string {
	if e := c.live(key); e != nil {
		return e.typ
	}
	return cachestore.TypeNone
}

func (c *fakeCache) expire(cmd, key string, ttl time.Duration) bool {
	e := c.live(key)
	if e == nil {
		return false
	}
	e.exp = c.now().Add(ttl)
	c.expires[key] = expireCall{cmd: cmd, ttl: ttl}
	return true
}

func (c *fakeCache) Type(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typeOf(key), nil
}

func (c *fakeCache) Exists(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if c.live(k) != nil {
			n++
		}
	}
	return n, nil
}

func (c *fakeCache) PExpire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expire("pexpire", key, ttl), nil
}

func (c *fakeCache) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expire("expire", key, ttl), nil
}

func (c *fakeCache) Del(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if c.live(k) != nil {
			delete(c.keys, k)
			n++
		}
	}
	return n, nil
}

func (c *fakeCache) Pipeline() cachestore.Pipeline { return &fakePipe{c: c} }

type fakePipe struct {
	c   *fakeCache
	ops []func()
}

func (p *fakePipe) Type(key string) *cachestore.Reply[string] {
	r := &cachestore.Reply[string]{}
	p.ops = append(p.ops, func() { r.Set(p.c.typeOf(key), nil) })
	return r
}

func (p *fakePipe) Exists(key string) *cachestore.Reply[bool] {
	r := &cachestore.Reply[bool]{}
	p.ops = append(p.ops, func() { r.Set(p.c.live(key) != nil, nil) })
	return r
}

func (p *fakePipe) PExpire(key string, ttl time.Duration) *cachestore.Reply[bool] {
	r := &cachestore.Reply[bool]{}
	p.ops = append(p.ops, func() {
		if p.c.expireErr != nil {
			r.Set(false, p.c.expireErr)
			return
		}
		r.Set(p.c.expire("pexpire", key, ttl), nil)
	})
	return r
}

func (p *fakePipe) Expire(key string, ttl time.Duration) *cachestore.Reply[bool] {
	r := &cachestore.Reply[bool]{}
	p.ops = append(p.ops, func() {
		if p.c.expireErr != nil {
			r.Set(false, p.c.expireErr)
			return
		}
		r.Set(p.c.expire("expire", key, ttl), nil)
	})
	return r
}

func (p *fakePipe) Exec(context.Context) error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	for _, op := range p.ops {
		op()
	}
	p.ops = nil
	return nil
}

// memProvider is a map-backed provider.Provider without eviction.
type memProvider struct {
	mu sync.Mutex
	m  map[string][]byte
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	p.m[key] = value
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

// recHooks records hook calls.
type recHooks struct {
	NopHooks
	mu        sync.Mutex
	owned     [][]string
	lost      []string
	completed []flushEvent
	failed    []flushEvent
	skipped   int
	dropped   []string
	expired   []string
}

type flushEvent struct {
	queue string
	kind  record.Kind
	n     int
}

func (h *recHooks) OwnedPartitions(q []string) {
	h.mu.Lock()
	h.owned = append(h.owned, append([]string(nil), q...))
	h.mu.Unlock()
}

func (h *recHooks) LeaseLost(q string) {
	h.mu.Lock()
	h.lost = append(h.lost, q)
	h.mu.Unlock()
}

func (h *recHooks) FlushCompleted(q string, k record.Kind, n int, _ time.Duration) {
	h.mu.Lock()
	h.completed = append(h.completed, flushEvent{q, k, n})
	h.mu.Unlock()
}

func (h *recHooks) FlushFailed(q string, k record.Kind, n int, _ error) {
	h.mu.Lock()
	h.failed = append(h.failed, flushEvent{q, k, n})
	h.mu.Unlock()
}

func (h *recHooks) RecordSkipped(string, error) {
	h.mu.Lock()
	h.skipped++
	h.mu.Unlock()
}

func (h *recHooks) ExpireTaskDropped(key string) {
	h.mu.Lock()
	h.dropped = append(h.dropped, key)
	h.mu.Unlock()
}

func (h *recHooks) LazyExpired(key string) {
	h.mu.Lock()
	h.expired = append(h.expired, key)
	h.mu.Unlock()
}

func (h *recHooks) snapshot() recHooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recHooks{
		owned:     append([][]string(nil), h.owned...),
		lost:      append([]string(nil), h.lost...),
		completed: append([]flushEvent(nil), h.completed...),
		failed:    append([]flushEvent(nil), h.failed...),
		skipped:   h.skipped,
		dropped:   append([]string(nil), h.dropped...),
		expired:   append([]string(nil), h.expired...),
	}
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.UnixMilli(1_700_000_000_000)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
