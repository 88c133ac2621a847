package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	wb "github.com/unkn0wn-root/writebehind"
	"github.com/unkn0wn-root/writebehind/cachestore/rediscache"
	"github.com/unkn0wn-root/writebehind/codec"
	"github.com/unkn0wn-root/writebehind/config"
	"github.com/unkn0wn-root/writebehind/fleet"
	async "github.com/unkn0wn-root/writebehind/hooks/async"
	"github.com/unkn0wn-root/writebehind/lease"
	"github.com/unkn0wn-root/writebehind/lease/etcdlock"
	"github.com/unkn0wn-root/writebehind/lease/redislock"
	wblogrus "github.com/unkn0wn-root/writebehind/log/logrus"
	wbslog "github.com/unkn0wn-root/writebehind/log/slog"
	wbzap "github.com/unkn0wn-root/writebehind/log/zap"
	pr "github.com/unkn0wn-root/writebehind/provider"
	"github.com/unkn0wn-root/writebehind/provider/bigcache"
	redisprov "github.com/unkn0wn-root/writebehind/provider/redis"
	"github.com/unkn0wn-root/writebehind/provider/ristretto"
	"github.com/unkn0wn-root/writebehind/queue/redisq"
	"github.com/unkn0wn-root/writebehind/record"
	"github.com/unkn0wn-root/writebehind/sloghooks"
	"github.com/unkn0wn-root/writebehind/store"
	"github.com/unkn0wn-root/writebehind/store/memstore"
	"github.com/unkn0wn-root/writebehind/store/pebblestore"
)

// deps holds the backends built from a Config. close releases them in
// reverse construction order.
type deps struct {
	log       wb.Logger
	rdb       goredis.UniversalClient
	cache     *rediscache.Store
	durable   store.Store
	queue     *redisq.Queue
	locker    lease.Locker
	counter   wb.FleetCounter
	heartbeat *fleet.Redis
	codec     record.Codec
	closers   []func()
}

func (d *deps) onClose(f func()) { d.closers = append(d.closers, f) }

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func wire(ctx context.Context, cfg config.Config) (*deps, error) {
	d := &deps{}
	if err := d.build(ctx, cfg); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *deps) build(ctx context.Context, cfg config.Config) (err error) {
	if d.log, err = newLogger(d, cfg.Log); err != nil {
		return err
	}

	d.rdb = goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	d.onClose(func() { _ = d.rdb.Close() })
	if err = d.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if d.cache, err = rediscache.New(rediscache.Config{
		Client:        d.rdb,
		KeyPrefix:     cfg.Redis.KeyPrefix,
		Transactional: cfg.Redis.Transactional,
	}); err != nil {
		return err
	}
	if d.queue, err = redisq.New(d.rdb); err != nil {
		return err
	}

	switch cfg.Durable.Backend {
	case "memory":
		d.durable = memstore.New()
	default:
		d.durable, err = pebblestore.Open(pebblestore.Config{
			Dir:         cfg.Durable.Dir,
			CacheSizeMB: cfg.Durable.CacheSizeMB,
			NoSync:      cfg.Durable.NoSync,
		})
		if err != nil {
			return fmt.Errorf("open durable store: %w", err)
		}
	}
	d.onClose(func() {
		if err := d.durable.Close(); err != nil {
			d.log.Error("durable store close failed", wb.Fields{"err": err})
		}
	})

	if err = wireLocker(d, cfg); err != nil {
		return err
	}
	if err = wireFleet(d, cfg.Fleet); err != nil {
		return err
	}
	if d.codec, err = newRecordCodec(cfg.WriteBehind.RecordCodec, cfg.WriteBehind.MaxRecordBytes); err != nil {
		return err
	}
	return nil
}

func wireLocker(d *deps, cfg config.Config) error {
	if cfg.Lease.Backend != "etcd" {
		l, err := redislock.New(d.rdb)
		if err != nil {
			return err
		}
		d.locker = l
		return nil
	}
	dial := cfg.Etcd.DialTimeout.D()
	if dial <= 0 {
		dial = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{Endpoints: cfg.Etcd.Endpoints, DialTimeout: dial})
	if err != nil {
		return fmt.Errorf("etcd: %w", err)
	}
	d.onClose(func() { _ = cli.Close() })
	l, err := etcdlock.New(etcdlock.Config{Client: cli, Prefix: cfg.Etcd.Prefix, OpTimeout: cfg.Etcd.OpTimeout.D()})
	if err != nil {
		return err
	}
	d.locker = l
	return nil
}

func wireFleet(d *deps, cfg config.FleetConfig) error {
	if cfg.Mode == "static" {
		s, err := fleet.NewStatic(cfg.Size)
		if err != nil {
			return err
		}
		d.counter = s
		return nil
	}
	r, err := fleet.NewRedis(fleet.Config{
		Client:     d.rdb,
		Key:        cfg.Key,
		InstanceID: cfg.InstanceID,
		Interval:   cfg.HeartbeatInterval.D(),
		Timeout:    cfg.Timeout.D(),
		OnError: func(err error) {
			d.log.Warn("fleet heartbeat failed", wb.Fields{"err": err})
		},
	})
	if err != nil {
		return err
	}
	d.counter, d.heartbeat = r, r
	return nil
}

func newTypeCache(d *deps, cfg config.TypeCacheConfig) (pr.Provider, error) {
	var (
		p   pr.Provider
		err error
	)
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "bigcache":
		life := cfg.TTL.D()
		if life <= 0 {
			life = 10 * time.Second
		}
		p, err = bigcache.New(bigcache.Config{LifeWindow: life})
	case "redis":
		p, err = redisprov.New(redisprov.Config{Client: d.rdb})
	default:
		p, err = ristretto.New(ristretto.ForCapacity(cfg.Capacity))
	}
	if err != nil {
		return nil, fmt.Errorf("type cache %s: %w", cfg.Backend, err)
	}
	return p, nil
}

// newRecordCodec picks the queue payload codec. A positive limit rejects
// oversized payloads on decode so they are skipped instead of buffered.
func newRecordCodec(name string, limit int) (record.Codec, error) {
	var inner codec.Codec[record.Record]
	switch name {
	case "json":
		inner = codec.JSON[record.Record]{}
	case "cbor":
		c, err := codec.NewCBOR[record.Record](true)
		if err != nil {
			return record.Codec{}, err
		}
		inner = c
	case "protobuf":
		inner = record.Proto{}
	default:
		inner = codec.Msgpack[record.Record]{}
	}
	if limit > 0 {
		inner = codec.LimitCodec[record.Record]{Inner: inner, MaxDecode: limit}
	}
	return record.Codec{Inner: inner}, nil
}

func newLogger(d *deps, cfg config.LogConfig) (wb.Logger, error) {
	switch cfg.Format {
	case "text":
		l := logrus.New()
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return wblogrus.New(l), nil
	case "slog":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
		return wbslog.Logger{L: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))}, nil
	}
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zl, err := zc.Build()
	if err != nil {
		return nil, err
	}
	d.onClose(func() { _ = zl.Sync() })
	return wbzap.New(zl), nil
}

// options assembles engine options. Event hooks run off the hot path on an
// async queue that is drained on close.
func (d *deps) options(cfg config.Config, extra wb.Hooks) wb.Options {
	var hs wb.MultiHooks
	if extra != nil {
		hs = append(hs, extra)
	}
	if cfg.Log.Events {
		hs = append(hs, sloghooks.New(slog.New(slog.NewJSONHandler(os.Stderr, nil)), sloghooks.Options{
			FlushCompletedEvery: 100,
			LazyExpiredEvery:    100,
		}))
	}

	opts := cfg.Options()
	opts.Cache = d.cache
	opts.Durable = d.durable
	opts.Queue = d.queue
	opts.Locker = d.locker
	opts.Fleet = d.counter
	opts.Logger = d.log
	opts.RecordCodec = d.codec
	if len(hs) > 0 {
		ah := async.New(hs, 2, 4096)
		d.onClose(ah.Close)
		opts.Hooks = ah
	}
	return opts
}
