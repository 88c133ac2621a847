// Package cachestore defines the subset of the cache-store command surface
// the write-behind engine consumes: TYPE, EXISTS, PEXPIRE/EXPIRE, DEL and a
// pipeline whose replies become readable after Exec.
package cachestore

import (
	"context"
	"errors"
	"time"
)

// TypeNone is the TYPE reply for a missing key.
const TypeNone = "none"

var ErrNotExecuted = errors.New("cachestore: pipeline not executed")

// Store is a Redis-compatible cache store.
type Store interface {
	Type(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	PExpire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Pipeline() Pipeline
}

// Pipeline queues commands and sends them together on Exec. Replies are
// filled in by Exec; reading one earlier yields ErrNotExecuted.
type Pipeline interface {
	Type(key string) *Reply[string]
	Exists(key string) *Reply[bool]
	PExpire(key string, ttl time.Duration) *Reply[bool]
	Expire(key string, ttl time.Duration) *Reply[bool]
	Exec(ctx context.Context) error
}

// Reply is the deferred result of a pipelined command.
type Reply[T any] struct {
	val  T
	err  error
	done bool
}

// Set resolves the reply. Called by Pipeline implementations.
func (r *Reply[T]) Set(v T, err error) {
	r.val, r.err, r.done = v, err, true
}

// Result returns the value once the pipeline has been executed.
func (r *Reply[T]) Result() (T, error) {
	if !r.done {
		var zero T
		return zero, ErrNotExecuted
	}
	return r.val, r.err
}

// Val returns the value, or the zero value on error.
func (r *Reply[T]) Val() T {
	v, err := r.Result()
	if err != nil {
		var zero T
		return zero
	}
	return v
}
