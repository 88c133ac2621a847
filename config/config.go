// Package config loads the writebehindd YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	wb "github.com/unkn0wn-root/writebehind"
)

// Duration is a time.Duration written as "5s", "250ms" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) D() time.Duration { return time.Duration(d) }

// Config defines the daemon configuration schema.
type Config struct {
	Redis       RedisConfig       `yaml:"redis"`
	Etcd        EtcdConfig        `yaml:"etcd"`
	Durable     DurableConfig     `yaml:"durable"`
	Lease       LeaseConfig       `yaml:"lease"`
	Fleet       FleetConfig       `yaml:"fleet"`
	WriteBehind WriteBehindConfig `yaml:"writebehind"`
	TypeCache   TypeCacheConfig   `yaml:"type_cache"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

type RedisConfig struct {
	Addrs         []string `yaml:"addrs"`
	Password      string   `yaml:"password"`
	DB            int      `yaml:"db"`
	KeyPrefix     string   `yaml:"key_prefix"`
	Transactional bool     `yaml:"transactional"`
}

type EtcdConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	DialTimeout Duration `yaml:"dial_timeout"`
	Prefix      string   `yaml:"prefix"`
	OpTimeout   Duration `yaml:"op_timeout"`
}

type DurableConfig struct {
	Backend     string `yaml:"backend"` // pebble | memory
	Dir         string `yaml:"dir"`
	CacheSizeMB int64  `yaml:"cache_size_mb"`
	NoSync      bool   `yaml:"no_sync"`
}

type LeaseConfig struct {
	Backend        string   `yaml:"backend"` // redis | etcd
	TTL            Duration `yaml:"ttl"`
	AcquireTimeout Duration `yaml:"acquire_timeout"`
	CheckInterval  Duration `yaml:"check_interval"`
}

type FleetConfig struct {
	Mode              string   `yaml:"mode"` // redis | static
	Size              int      `yaml:"size"`
	Key               string   `yaml:"key"`
	InstanceID        string   `yaml:"instance_id"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	Timeout           Duration `yaml:"timeout"`
}

type WriteBehindConfig struct {
	QueuePrefix        string              `yaml:"queue_prefix"`
	Partitions         int                 `yaml:"partitions"`
	ProducerPartitions int                 `yaml:"producer_partitions"`
	BatchSize          int                 `yaml:"batch_size"`
	IdleInterval       Duration            `yaml:"idle_interval"`
	RetryBackoff       Duration            `yaml:"retry_backoff"`
	RetryMaxBackoff    Duration            `yaml:"retry_max_backoff"`
	DrainAttempts      int                 `yaml:"drain_attempts"`
	DrainTimeout       Duration            `yaml:"drain_timeout"`
	WriteAsync         bool                `yaml:"write_async"`
	ExpireAsync        bool                `yaml:"expire_async"`
	ExpireWorkers      int                 `yaml:"expire_workers"`
	ExpireQueueSize    int                 `yaml:"expire_queue_size"`
	ExpireTimeout      Duration            `yaml:"expire_timeout"`
	RecordCodec        string              `yaml:"record_codec"`     // msgpack | json | cbor | protobuf
	MaxRecordBytes     int                 `yaml:"max_record_bytes"` // 0 = unlimited
	TTLCaps            map[string]Duration `yaml:"ttl_caps"`
}

type TypeCacheConfig struct {
	Backend  string   `yaml:"backend"` // none | ristretto | bigcache | redis
	TTL      Duration `yaml:"ttl"`
	Capacity int64    `yaml:"capacity"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // "" disables the endpoint
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console | text | slog
	// Events logs engine hooks (flushes, lease loss, drops) as structured lines.
	Events bool `yaml:"events"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes data, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Redis.Addrs) == 0 {
		c.Redis.Addrs = []string{"127.0.0.1:6379"}
	}
	if c.Durable.Backend == "" {
		c.Durable.Backend = "pebble"
	}
	if c.Lease.Backend == "" {
		c.Lease.Backend = "redis"
	}
	if c.Fleet.Mode == "" {
		c.Fleet.Mode = "redis"
	}
	if c.TypeCache.Backend == "" {
		c.TypeCache.Backend = "ristretto"
	}
	if c.WriteBehind.RecordCodec == "" {
		c.WriteBehind.RecordCodec = "msgpack"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate enforces required fields and known enum values.
func (c Config) Validate() error {
	var errs []error
	switch c.Durable.Backend {
	case "pebble":
		if c.Durable.Dir == "" {
			errs = append(errs, errors.New("durable.dir is required for pebble"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("durable.backend %q: want pebble or memory", c.Durable.Backend))
	}
	switch c.Lease.Backend {
	case "redis":
	case "etcd":
		if len(c.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("etcd.endpoints is required for the etcd lease backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lease.backend %q: want redis or etcd", c.Lease.Backend))
	}
	switch c.Fleet.Mode {
	case "redis":
	case "static":
		if c.Fleet.Size < 1 {
			errs = append(errs, errors.New("fleet.size must be >= 1 in static mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("fleet.mode %q: want redis or static", c.Fleet.Mode))
	}
	switch c.TypeCache.Backend {
	case "none", "ristretto", "bigcache", "redis":
	default:
		errs = append(errs, fmt.Errorf("type_cache.backend %q: want none, ristretto, bigcache or redis", c.TypeCache.Backend))
	}
	switch c.WriteBehind.RecordCodec {
	case "msgpack", "json", "cbor", "protobuf":
	default:
		errs = append(errs, fmt.Errorf("writebehind.record_codec %q: want msgpack, json, cbor or protobuf", c.WriteBehind.RecordCodec))
	}
	switch c.Log.Format {
	case "json", "console", "text", "slog":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json, console, text or slog", c.Log.Format))
	}
	if c.WriteBehind.Partitions < 0 || c.WriteBehind.ProducerPartitions < 0 {
		errs = append(errs, errors.New("writebehind partitions must not be negative"))
	}
	for t := range c.WriteBehind.TTLCaps {
		if _, ok := wb.ParseType(t); !ok {
			errs = append(errs, fmt.Errorf("writebehind.ttl_caps: unknown type %q", t))
		}
	}
	ttl, check := c.Lease.TTL.D(), c.Lease.CheckInterval.D()
	if ttl > 0 && check > 0 && ttl <= check {
		errs = append(errs, errors.New("lease.ttl must exceed lease.check_interval"))
	}
	return errors.Join(errs...)
}

// Options maps the tuning sections onto writebehind.Options. Stores, queue,
// locker, fleet counter, codec and type cache are wired by the caller.
func (c Config) Options() wb.Options {
	w := c.WriteBehind
	o := wb.Options{
		QueuePrefix:        w.QueuePrefix,
		Partitions:         w.Partitions,
		ProducerPartitions: w.ProducerPartitions,
		CheckInterval:      c.Lease.CheckInterval.D(),
		LeaseTTL:           c.Lease.TTL.D(),
		AcquireTimeout:     c.Lease.AcquireTimeout.D(),
		BatchSize:          w.BatchSize,
		IdleInterval:       w.IdleInterval.D(),
		RetryBackoff:       w.RetryBackoff.D(),
		RetryMaxBackoff:    w.RetryMaxBackoff.D(),
		DrainAttempts:      w.DrainAttempts,
		DrainTimeout:       w.DrainTimeout.D(),
		WriteAsync:         w.WriteAsync,
		TypeCacheTTL:       c.TypeCache.TTL.D(),
		ExpireAsync:        w.ExpireAsync,
		ExpireWorkers:      w.ExpireWorkers,
		ExpireQueueSize:    w.ExpireQueueSize,
		ExpireTimeout:      w.ExpireTimeout.D(),
	}
	if len(w.TTLCaps) > 0 {
		o.CacheTTLCaps = make(map[wb.Type]time.Duration, len(w.TTLCaps))
		for t, d := range w.TTLCaps {
			o.CacheTTLCaps[wb.Type(t)] = d.D()
		}
	}
	return o
}
