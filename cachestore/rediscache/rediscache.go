// Package rediscache adapts a go-redis client to cachestore.Store.
package rediscache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/writebehind/cachestore"
)

var ErrNilClient = errors.New("rediscache: nil client")

// Config configures a Store.
type Config struct {
	Client goredis.UniversalClient
	// KeyPrefix is prepended to every key sent to the server.
	KeyPrefix string
	// Transactional wraps pipelines in MULTI/EXEC.
	Transactional bool
}

// Store issues cache commands on a go-redis client under an optional prefix.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	tx     bool
}

var _ cachestore.Store = (*Store)(nil)

// New returns a Store for cfg.Client.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{rdb: cfg.Client, prefix: cfg.KeyPrefix, tx: cfg.Transactional}, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) keys(ks []string) []string {
	if s.prefix == "" {
		return ks
	}
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = s.key(k)
	}
	return out
}

// Type returns the Redis type name of key, "none" when absent.
func (s *Store) Type(ctx context.Context, key string) (string, error) {
	return s.rdb.Type(ctx, s.key(key)).Result()
}

// Exists counts the keys present.
func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.rdb.Exists(ctx, s.keys(keys)...).Result()
}

// PExpire sets a millisecond TTL and reports whether key exists.
func (s *Store) PExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.PExpire(ctx, s.key(key), ttl).Result()
}

// Expire sets a TTL truncated to seconds and reports whether key exists.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.Expire(ctx, s.key(key), ttl).Result()
}

// Del removes keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.rdb.Del(ctx, s.keys(keys)...).Result()
}

// Pipeline batches commands, inside MULTI/EXEC when Transactional is set.
func (s *Store) Pipeline() cachestore.Pipeline {
	var p goredis.Pipeliner
	if s.tx {
		p = s.rdb.TxPipeline()
	} else {
		p = s.rdb.Pipeline()
	}
	return &pipeline{s: s, p: p}
}

type pipeline struct {
	s       *Store
	p       goredis.Pipeliner
	resolve []func()
}

func (pl *pipeline) Type(key string) *cachestore.Reply[string] {
	r := &cachestore.Reply[string]{}
	cmd := pl.p.Type(context.Background(), pl.s.key(key))
	pl.resolve = append(pl.resolve, func() { r.Set(cmd.Result()) })
	return r
}

func (pl *pipeline) Exists(key string) *cachestore.Reply[bool] {
	r := &cachestore.Reply[bool]{}
	cmd := pl.p.Exists(context.Background(), pl.s.key(key))
	pl.resolve = append(pl.resolve, func() {
		n, err := cmd.Result()
		r.Set(n > 0, err)
	})
	return r
}

func (pl *pipeline) PExpire(key string, ttl time.Duration) *cachestore.Reply[bool] {
	r := &cachestore.Reply[bool]{}
	cmd := pl.p.PExpire(context.Background(), pl.s.key(key), ttl)
	pl.resolve = append(pl.resolve, func() { r.Set(cmd.Result()) })
	return r
}

func (pl *pipeline) Expire(key string, ttl time.Duration) *cachestore.Reply[bool] {
	r := &cachestore.Reply[bool]{}
	cmd := pl.p.Expire(context.Background(), pl.s.key(key), ttl)
	pl.resolve = append(pl.resolve, func() { r.Set(cmd.Result()) })
	return r
}

// Exec sends the queued commands. Per-command errors are reported on the
// individual replies; Exec itself only fails on transport errors.
func (pl *pipeline) Exec(ctx context.Context) error {
	_, err := pl.p.Exec(ctx)
	for _, f := range pl.resolve {
		f()
	}
	pl.resolve = nil
	var rerr goredis.Error
	if err != nil && (errors.As(err, &rerr) || err == goredis.Nil) {
		return nil
	}
	return err
}
