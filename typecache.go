package writebehind

import (
	"context"
	"time"

	"github.com/unkn0wn-root/writebehind/codec"
	"github.com/unkn0wn-root/writebehind/internal/util"
	pr "github.com/unkn0wn-root/writebehind/provider"
)

const typeTag = "type"

type typeEntry struct {
	T Type `msgpack:"t"`
}

// typeCache is the advisory local type cache. Deletes and expirations seen by
// this Client evict entries; writes from other instances do not, so a resolved
// type may be stale for up to ttl.
type typeCache struct {
	p     pr.Provider
	codec codec.Codec[typeEntry]
	ttl   time.Duration
	log   Logger
}

func newTypeCache(p pr.Provider, ttl time.Duration, log Logger) *typeCache {
	return &typeCache{p: p, codec: codec.Msgpack[typeEntry]{}, ttl: ttl, log: log}
}

func (c *typeCache) get(ctx context.Context, key string) (Type, bool) {
	k := util.LocalKey(typeTag, key)
	raw, ok, err := c.p.Get(ctx, k)
	if err != nil {
		c.log.Debug("type cache get failed", Fields{"key": key, "err": err})
		return TypeNone, false
	}
	if !ok {
		return TypeNone, false
	}
	e, err := c.codec.Decode(raw)
	if err != nil {
		_ = c.p.Del(ctx, k) // self-heal
		return TypeNone, false
	}
	t, ok := ParseType(string(e.T))
	return t, ok
}

func (c *typeCache) put(ctx context.Context, key string, t Type) {
	raw, err := c.codec.Encode(typeEntry{T: t})
	if err != nil {
		return
	}
	ok, err := c.p.Set(ctx, util.LocalKey(typeTag, key), raw, 1, c.ttl)
	if err != nil {
		c.log.Debug("type cache set failed", Fields{"key": key, "err": err})
		return
	}
	if !ok {
		c.log.Debug("type cache set rejected by provider (pressure)", Fields{"key": key})
	}
}

func (c *typeCache) del(ctx context.Context, key string) {
	if err := c.p.Del(ctx, util.LocalKey(typeTag, key)); err != nil {
		c.log.Debug("type cache del failed", Fields{"key": key, "err": err})
	}
}

func (c *typeCache) close(ctx context.Context) error { return c.p.Close(ctx) }
