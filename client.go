package writebehind

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/writebehind/cachestore"
	"github.com/unkn0wn-root/writebehind/internal/util"
	"github.com/unkn0wn-root/writebehind/record"
	"github.com/unkn0wn-root/writebehind/store"
)

// Client keeps type and TTL metadata consistent between the cache store and
// the durable store and routes writes to either the durable store or a
// partition queue.
//
// Errors from lazy expiration are healed in place and never returned.
type Client struct {
	cache   cachestore.Store
	durable store.Store
	log     Logger
	hooks   Hooks
	now     func() time.Time

	writeAsync bool
	producer   *Producer
	types      *typeCache
	ttlCaps    map[Type]time.Duration
	expire     *expireScheduler
	sf         singleflight.Group
	closed     atomic.Bool
}

// New builds a Client. Cache and Durable are required; Queue is required
// when WriteAsync is set.
func New(opts Options) (*Client, error) {
	c, err := newClient(opts)
	if err != nil {
		return nil, err
	}
	if c.expire != nil {
		c.expire.start()
	}
	return c, nil
}

func newClient(opts Options) (*Client, error) {
	if opts.Cache == nil {
		return nil, ErrNilCacheStore
	}
	if opts.Durable == nil {
		return nil, ErrNilDurableStore
	}
	if opts.WriteAsync && opts.Queue == nil {
		return nil, ErrNilQueue
	}
	opts = opts.withDefaults()

	c := &Client{
		cache:      opts.Cache,
		durable:    opts.Durable,
		log:        opts.Logger,
		hooks:      opts.Hooks,
		now:        time.Now,
		writeAsync: opts.WriteAsync,
		ttlCaps:    opts.CacheTTLCaps,
	}
	if opts.Queue != nil {
		p, err := NewProducer(opts)
		if err != nil {
			return nil, err
		}
		c.producer = p
	}
	if opts.TypeCache != nil {
		c.types = newTypeCache(opts.TypeCache, opts.TypeCacheTTL, opts.Logger)
	}
	if opts.ExpireAsync {
		c.expire = newExpireScheduler(opts.ExpireWorkers, opts.ExpireQueueSize, opts.ExpireTimeout,
			c.pexpireAt, opts.Logger, opts.Hooks)
	}
	return c, nil
}

// Close stops the expire workers (draining accepted tasks) and closes the
// local type cache. Stores and queues are owned by the caller.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if c.expire != nil {
		err = c.expire.stop(ctx)
	}
	if c.types != nil {
		if cerr := c.types.close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// Type returns the type name of key, "none" when absent.
func (c *Client) Type(ctx context.Context, key string) (string, error) {
	t, err := c.ResolveType(ctx, key)
	return string(t), err
}

// ResolveType resolves the type of key: local type cache, then TYPE on the
// cache store, then durable metadata with lazy expiration.
func (c *Client) ResolveType(ctx context.Context, key string) (Type, error) {
	if c.types != nil {
		if t, ok := c.types.get(ctx, key); ok {
			return t, nil
		}
	}
	raw, err := c.cache.Type(ctx, key)
	if err != nil {
		return TypeNone, fmt.Errorf("writebehind: type %q: %w", key, err)
	}
	t, ok := ParseType(raw)
	if !ok {
		if t, err = c.durableType(ctx, key); err != nil {
			return TypeNone, err
		}
	}
	if t != TypeNone && c.types != nil {
		c.types.put(ctx, key, t)
	}
	return t, nil
}

// durableType reads d:t and d:e. Concurrent lookups of the same key share
// one durable read.
func (c *Client) durableType(ctx context.Context, key string) (Type, error) {
	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.loadDurableType(ctx, key)
	})
	if err != nil {
		return TypeNone, err
	}
	return v.(Type), nil
}

func (c *Client) loadDurableType(ctx context.Context, key string) (Type, error) {
	row := util.RowKey(key)
	res, err := c.durable.Get(ctx, row, store.ColType, store.ColExpire)
	if err != nil {
		return TypeNone, fmt.Errorf("writebehind: durable get %q: %w", key, err)
	}
	if at, ok := store.DecodeExpiry(res.Value(store.Family, store.ColExpire)); ok && at < c.now().UnixMilli() {
		c.lazyExpire(ctx, key, row)
		return TypeNone, nil
	}
	t, _ := ParseType(string(res.Value(store.Family, store.ColType)))
	return t, nil
}

// lazyExpire removes an expired durable row. Failures are logged; the next
// read retries.
func (c *Client) lazyExpire(ctx context.Context, key string, row []byte) {
	if err := c.durable.Delete(ctx, store.NewDeleteRow(row)); err != nil {
		c.log.Warn("lazy expire: durable delete failed", Fields{"key": key, "err": err})
		return
	}
	c.forget(ctx, key)
	c.hooks.LazyExpired(key)
	c.log.Debug("lazy expired durable row", Fields{"key": key})
}

func (c *Client) forget(ctx context.Context, key string) {
	if c.types != nil {
		c.types.del(ctx, key)
	}
}

// PTTL returns the remaining time to live of key in milliseconds, -2 when the
// key does not exist and -1 when it has no expiry.
func (c *Client) PTTL(ctx context.Context, key string) (int64, error) {
	t, err := c.ResolveType(ctx, key)
	if err != nil {
		return 0, err
	}
	if t == TypeNone {
		return -2, nil
	}
	row := util.RowKey(key)
	res, err := c.durable.Get(ctx, row, store.ColExpire)
	if err != nil {
		return 0, fmt.Errorf("writebehind: durable get %q: %w", key, err)
	}
	at, ok := store.DecodeExpiry(res.Value(store.Family, store.ColExpire))
	if !ok {
		return -1, nil
	}
	left := at - c.now().UnixMilli()
	if left <= 0 {
		c.forget(ctx, key)
		if err := c.route(ctx, key, record.Delete, []store.Mutation{store.NewDeleteRow(row)}); err != nil {
			c.log.Warn("pttl: expired row delete failed", Fields{"key": key, "err": err})
		}
		return -2, nil
	}
	return left, nil
}

// TTL is PTTL in seconds. Negative sentinels pass through.
func (c *Client) TTL(ctx context.Context, key string) (int64, error) {
	ms, err := c.PTTL(ctx, key)
	if err != nil || ms < 0 {
		return ms, err
	}
	return ms / 1000, nil
}

// PExpireAt sets the expiry of key to the unix millisecond timestamp at in
// both tiers. It returns 0 when key does not exist. With ExpireAsync the
// update is queued and 1 is returned right away.
func (c *Client) PExpireAt(ctx context.Context, key string, at int64) (int64, error) {
	if c.expire != nil {
		c.expire.submit(key, at)
		return 1, nil
	}
	return c.pexpireAt(ctx, key, at)
}

// Expire sets a relative expiry in seconds.
func (c *Client) Expire(ctx context.Context, key string, seconds int64) (int64, error) {
	return c.PExpireAt(ctx, key, c.now().UnixMilli()+seconds*1000)
}

// PExpire sets a relative expiry in milliseconds.
func (c *Client) PExpire(ctx context.Context, key string, ms int64) (int64, error) {
	return c.PExpireAt(ctx, key, c.now().UnixMilli()+ms)
}

// ExpireAt takes a unix timestamp in seconds.
func (c *Client) ExpireAt(ctx context.Context, key string, unixSec int64) (int64, error) {
	return c.PExpireAt(ctx, key, unixSec*1000)
}

func (c *Client) pexpireAt(ctx context.Context, key string, at int64) (int64, error) {
	t, err := c.ResolveType(ctx, key)
	if err != nil {
		return 0, err
	}
	if t == TypeNone {
		return 0, nil
	}

	left := time.Duration(at-c.now().UnixMilli()) * time.Millisecond
	p := c.cache.Pipeline()
	var reply *cachestore.Reply[bool]
	if limit, ok := c.ttlCaps[t]; ok && limit > 0 && left/time.Second > limit/time.Second {
		reply = p.Expire(key, limit)
	} else {
		reply = p.PExpire(key, left)
	}
	if err := p.Exec(ctx); err != nil {
		return 0, fmt.Errorf("writebehind: pexpire %q: %w", key, err)
	}
	if _, err := reply.Result(); err != nil {
		return 0, fmt.Errorf("writebehind: pexpire %q: %w", key, err)
	}

	put := store.NewPut(util.RowKey(key), store.Family, store.ColExpire, store.EncodeExpiry(at))
	if err := c.route(ctx, key, record.Put, []store.Mutation{put}); err != nil {
		return 0, err
	}
	return 1, nil
}

// Persist removes the durable expiry of key. It returns 0 when key does not
// exist.
func (c *Client) Persist(ctx context.Context, key string) (int64, error) {
	t, err := c.ResolveType(ctx, key)
	if err != nil {
		return 0, err
	}
	if t == TypeNone {
		return 0, nil
	}
	del := store.NewDeleteColumns(util.RowKey(key), store.Family, store.ColExpire)
	if err := c.route(ctx, key, record.Delete, []store.Mutation{del}); err != nil {
		return 0, err
	}
	return 1, nil
}

// Exists counts keys present in either tier. Keys missing from the cache store
// are checked against durable metadata one by one.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.cache.Exists(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("writebehind: exists: %w", err)
	}
	if n == int64(len(keys)) {
		return n, nil
	}

	p := c.cache.Pipeline()
	replies := make([]*cachestore.Reply[bool], len(keys))
	for i, k := range keys {
		replies[i] = p.Exists(k)
	}
	if err := p.Exec(ctx); err != nil {
		return 0, fmt.Errorf("writebehind: exists pipeline: %w", err)
	}
	n = 0
	for i, r := range replies {
		if r.Val() {
			n++
			continue
		}
		t, err := c.durableType(ctx, keys[i])
		if err != nil {
			return 0, err
		}
		if t != TypeNone {
			n++
		}
	}
	return n, nil
}

// Del deletes keys from both tiers and returns how many existed. Durable rows
// are deleted synchronously regardless of WriteAsync; for keys whose writes
// may be queued the delete is enqueued as well.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	p := c.cache.Pipeline()
	replies := make([]*cachestore.Reply[string], len(keys))
	for i, k := range keys {
		replies[i] = p.Type(k)
	}
	if err := p.Exec(ctx); err != nil {
		return 0, fmt.Errorf("writebehind: del type pipeline: %w", err)
	}

	var typed []string
	var rows []store.Mutation
	for i, r := range replies {
		if _, ok := ParseType(r.Val()); !ok {
			t, err := c.durableType(ctx, keys[i])
			if err != nil {
				return 0, err
			}
			if t == TypeNone {
				continue
			}
		}
		typed = append(typed, keys[i])
		rows = append(rows, store.NewDeleteRow(util.RowKey(keys[i])))
	}
	if len(typed) == 0 {
		return 0, nil
	}
	// Keys live in the cache may have writes queued. Their row delete also
	// goes through the queue so it lands behind those writes.
	var queued []int
	for i, k := range typed {
		if c.asyncEligible(ctx, k) {
			queued = append(queued, i)
		}
	}
	if _, err := c.cache.Del(ctx, typed...); err != nil {
		return 0, fmt.Errorf("writebehind: del: %w", err)
	}
	if err := c.durable.Delete(ctx, rows...); err != nil {
		return 0, fmt.Errorf("writebehind: durable del: %w", err)
	}
	for _, i := range queued {
		if err := c.producer.push(ctx, typed[i], record.Delete, rows[i:i+1]); err != nil {
			return 0, err
		}
	}
	for _, k := range typed {
		c.forget(ctx, k)
	}
	return int64(len(typed)), nil
}

// Put applies put mutations of key's row, through the queue when the routing
// decision allows it.
func (c *Client) Put(ctx context.Context, key string, muts ...store.Mutation) error {
	return c.route(ctx, key, record.Put, muts)
}

// Delete applies delete mutations of key's row, through the queue when the
// routing decision allows it.
func (c *Client) Delete(ctx context.Context, key string, muts ...store.Mutation) error {
	return c.route(ctx, key, record.Delete, muts)
}

// route writes muts asynchronously only when WriteAsync is on and key is
// already live in the cache store. First writes stay synchronous.
func (c *Client) route(ctx context.Context, key string, kind record.Kind, muts []store.Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	if c.asyncEligible(ctx, key) {
		return c.producer.push(ctx, key, kind, muts)
	}
	var err error
	if kind == record.Put {
		err = c.durable.Put(ctx, muts...)
	} else {
		err = c.durable.Delete(ctx, muts...)
	}
	if err != nil {
		return fmt.Errorf("writebehind: durable %s %q: %w", kind, key, err)
	}
	return nil
}

func (c *Client) asyncEligible(ctx context.Context, key string) bool {
	if !c.writeAsync || c.producer == nil {
		return false
	}
	n, err := c.cache.Exists(ctx, key)
	if err != nil {
		c.log.Warn("exists check failed, writing synchronously", Fields{"key": key, "err": err})
		return false
	}
	return n > 0
}
