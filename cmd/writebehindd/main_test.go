package main

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/writebehind/config"
	"github.com/unkn0wn-root/writebehind/record"
	"github.com/unkn0wn-root/writebehind/store"
)

func TestRecordCodecs(t *testing.T) {
	in := record.Record{Kind: record.Put, Mutations: []store.Mutation{
		store.NewPut([]byte("row"), store.Family, "f", []byte("v")),
	}}
	for _, name := range []string{"msgpack", "json", "cbor", "protobuf"} {
		c, err := newRecordCodec(name, 0)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		out, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if out.Kind != record.Put || len(out.Mutations) != 1 || string(out.Mutations[0].Row) != "row" {
			t.Fatalf("%s: got %+v", name, out)
		}
	}
}

func TestRecordCodecLimit(t *testing.T) {
	c, err := newRecordCodec("msgpack", 8)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(record.Record{Kind: record.Put, Mutations: []store.Mutation{
		store.NewPut([]byte("a-long-row-key"), store.Family, "f", []byte("some value")),
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := c.Decode(b); err == nil {
		t.Fatal("oversized record decoded")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console", "text", "slog"} {
		d := &deps{}
		l, err := newLogger(d, config.LogConfig{Level: "debug", Format: format})
		if err != nil || l == nil {
			t.Fatalf("%s: logger=%v err=%v", format, l, err)
		}
		l.Info("hello", nil)
		d.close()
	}
	if _, err := newLogger(&deps{}, config.LogConfig{Level: "loud", Format: "json"}); err == nil {
		t.Fatal("expected bad level error")
	}
}

func TestNewTypeCache(t *testing.T) {
	ctx := context.Background()
	d := &deps{}
	p, err := newTypeCache(d, config.TypeCacheConfig{Backend: "none"})
	if err != nil || p != nil {
		t.Fatalf("none: p=%v err=%v", p, err)
	}
	for _, backend := range []string{"ristretto", "bigcache"} {
		p, err := newTypeCache(d, config.TypeCacheConfig{Backend: backend, Capacity: 100})
		if err != nil {
			t.Fatalf("%s: %v", backend, err)
		}
		if err := p.Close(ctx); err != nil {
			t.Fatalf("%s close: %v", backend, err)
		}
	}
	if _, err := newTypeCache(d, config.TypeCacheConfig{Backend: "redis"}); err == nil {
		t.Fatal("redis backend without a client should fail")
	}
}

func TestOptionsWithoutEventsHasNoHooks(t *testing.T) {
	d := &deps{}
	opts := d.options(config.Config{}, nil)
	if opts.Hooks != nil || len(d.closers) != 0 {
		t.Fatalf("hooks=%v closers=%d", opts.Hooks, len(d.closers))
	}
}
