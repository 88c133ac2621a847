package writebehind

import (
	"context"
	"time"

	"github.com/unkn0wn-root/writebehind/cachestore"
	"github.com/unkn0wn-root/writebehind/lease"
	pr "github.com/unkn0wn-root/writebehind/provider"
	"github.com/unkn0wn-root/writebehind/queue"
	"github.com/unkn0wn-root/writebehind/record"
	"github.com/unkn0wn-root/writebehind/store"
)

// Type is a cache data type as reported by TYPE and stored in d:t.
type Type string

const (
	TypeNone   Type = cachestore.TypeNone
	TypeString Type = "string"
	TypeHash   Type = "hash"
	TypeList   Type = "list"
	TypeSet    Type = "set"
	TypeZSet   Type = "zset"
)

// ParseType maps a TYPE reply or stored type marker to a known Type.
// Unknown names (and "none") report ok=false.
func ParseType(s string) (Type, bool) {
	switch t := Type(s); t {
	case TypeString, TypeHash, TypeList, TypeSet, TypeZSet:
		return t, true
	default:
		return TypeNone, false
	}
}

// FleetCounter reports how many instances currently share the partitions.
// See package fleet for implementations.
type FleetCounter interface {
	InstanceCount(ctx context.Context) (int, error)
}

type singleInstance struct{}

func (singleInstance) InstanceCount(context.Context) (int, error) { return 1, nil }

// Options configure Client, Producer and Coordinator. Each constructor checks
// the fields it needs; all other fields have sensible defaults.
type Options struct {
	Cache   cachestore.Store // Client
	Durable store.Store      // Client, Coordinator
	Queue   queue.Queue      // Producer, Coordinator; Client when WriteAsync
	Locker  lease.Locker     // Coordinator
	Fleet   FleetCounter     // nil => single instance

	Logger      Logger       // if nil, NopLogger is used
	Hooks       Hooks        // if nil, NopHooks is used
	RecordCodec record.Codec // zero => msgpack

	QueuePrefix        string // "" => "wb:q:"
	Partitions         int    // consumer side; 0 => 16
	ProducerPartitions int    // 0 => Partitions

	CheckInterval  time.Duration // coordinator cycle; 0 => 5s
	LeaseTTL       time.Duration // 0 => 30s; must exceed CheckInterval
	AcquireTimeout time.Duration // per partition; 0 => 100ms

	BatchSize       int           // flush when a buffer grows past this; 0 => 200
	IdleInterval    time.Duration // sleep on empty queue; 0 => 100ms
	RetryBackoff    time.Duration // first retry delay of a failed batch; 0 => 100ms
	RetryMaxBackoff time.Duration // 0 => 5s
	DrainAttempts   int           // batch attempts on stop before requeue; 0 => 3
	DrainTimeout    time.Duration // 0 => 10s; plus Partitions*AcquireTimeout must stay below LeaseTTL-CheckInterval

	WriteAsync   bool                   // route writes of cache-live keys through queues
	TypeCache    pr.Provider            // local type cache; nil disables it
	TypeCacheTTL time.Duration          // 0 => 10s
	CacheTTLCaps map[Type]time.Duration // nil => zset capped at 3 days

	ExpireAsync     bool          // apply TTL updates on the expire scheduler
	ExpireWorkers   int           // 0 => 4
	ExpireQueueSize int           // per worker; 0 => 10000
	ExpireTimeout   time.Duration // per task; 0 => 5s
}

func (o Options) withDefaults() Options {
	o.Logger = coalesce[Logger](o.Logger, NopLogger{})
	o.Hooks = coalesce[Hooks](o.Hooks, NopHooks{})
	o.Fleet = coalesce[FleetCounter](o.Fleet, singleInstance{})
	o.QueuePrefix = coalesce(o.QueuePrefix, defaultQueuePrefix)
	o.Partitions = coalesce(o.Partitions, defaultPartitions)
	o.ProducerPartitions = coalesce(o.ProducerPartitions, o.Partitions)
	o.CheckInterval = coalesce(o.CheckInterval, defaultCheckInterval)
	o.LeaseTTL = coalesce(o.LeaseTTL, defaultLeaseTTL)
	o.AcquireTimeout = coalesce(o.AcquireTimeout, defaultAcquireTimeout)
	o.BatchSize = coalesce(o.BatchSize, defaultBatchSize)
	o.IdleInterval = coalesce(o.IdleInterval, defaultIdleInterval)
	o.RetryBackoff = coalesce(o.RetryBackoff, defaultRetryBackoff)
	o.RetryMaxBackoff = coalesce(o.RetryMaxBackoff, defaultRetryMaxBackoff)
	o.DrainAttempts = coalesce(o.DrainAttempts, defaultDrainAttempts)
	o.DrainTimeout = coalesce(o.DrainTimeout, defaultDrainTimeout)
	o.TypeCacheTTL = coalesce(o.TypeCacheTTL, defaultTypeCacheTTL)
	o.ExpireWorkers = coalesce(o.ExpireWorkers, defaultExpireWorkers)
	o.ExpireQueueSize = coalesce(o.ExpireQueueSize, defaultExpireQueueSize)
	o.ExpireTimeout = coalesce(o.ExpireTimeout, defaultExpireTimeout)
	if o.CacheTTLCaps == nil {
		o.CacheTTLCaps = map[Type]time.Duration{TypeZSet: defaultZSetTTLCap}
	}
	if o.RetryMaxBackoff < o.RetryBackoff {
		o.RetryMaxBackoff = o.RetryBackoff
	}
	return o
}

// consumerPartitions is the number of queues a coordinator covers. During a
// partition count rollout producers and consumers may disagree; covering the
// larger of both leaves no queue without an owner.
func (o Options) consumerPartitions() int {
	if o.ProducerPartitions > o.Partitions {
		return o.ProducerPartitions
	}
	return o.Partitions
}
