package fleet

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("fleet: nil redis client")

// Redis tracks membership in a sorted set scored by last heartbeat (unix
// millis). Members silent for longer than Timeout drop out of the count.
type Redis struct {
	rdb      redis.UniversalClient
	key      string
	id       string
	interval time.Duration
	timeout  time.Duration
	onError  func(error)
	now      func() time.Time
}

type Config struct {
	Client     redis.UniversalClient
	Key        string        // sorted set key; "" => "wb:fleet"
	InstanceID string        // "" => random uuid
	Interval   time.Duration // heartbeat period; 0 => 5s
	Timeout    time.Duration // member expiry; 0 => 3 * Interval
	OnError    func(error)   // heartbeat failures inside Run; may be nil
}

func NewRedis(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	r := &Redis{
		rdb:      cfg.Client,
		key:      cfg.Key,
		id:       cfg.InstanceID,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		onError:  cfg.OnError,
		now:      time.Now,
	}
	if r.key == "" {
		r.key = "wb:fleet"
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.interval <= 0 {
		r.interval = 5 * time.Second
	}
	if r.timeout <= 0 {
		r.timeout = 3 * r.interval
	}
	return r, nil
}

// ID returns this instance's member name.
func (r *Redis) ID() string { return r.id }

func (r *Redis) cutoff() string {
	return "(" + strconv.FormatInt(r.now().Add(-r.timeout).UnixMilli(), 10)
}

// Heartbeat refreshes this member and prunes stale ones in one round-trip.
func (r *Redis) Heartbeat(ctx context.Context) error {
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, r.key, redis.Z{Score: float64(r.now().UnixMilli()), Member: r.id})
		p.ZRemRangeByScore(ctx, r.key, "-inf", r.cutoff())
		return nil
	})
	return err
}

// InstanceCount prunes stale members and returns the remaining count.
func (r *Redis) InstanceCount(ctx context.Context) (int, error) {
	var card *redis.IntCmd
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, r.key, "-inf", r.cutoff())
		card = p.ZCard(ctx, r.key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

// Run heartbeats immediately and then every Interval until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if err := r.Heartbeat(ctx); err != nil && ctx.Err() == nil && r.onError != nil {
			r.onError(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Leave removes this member so peers rebalance without waiting for Timeout.
func (r *Redis) Leave(ctx context.Context) error {
	return r.rdb.ZRem(ctx, r.key, r.id).Err()
}
