// Package asynchook decouples Hooks implementations from the engine's hot
// paths. Events go through a bounded queue and are dropped when it is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    FlushCompletedEvery: 100, // sample: ~every 100th batch
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	coord, _ := writebehind.NewCoordinator(writebehind.Options{
//	    Durable: durable,
//	    Queue:   redisq.New(rdb),
//	    Locker:  locker,
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	wb "github.com/unkn0wn-root/writebehind"
	"github.com/unkn0wn-root/writebehind/record"
)

type Hooks struct {
	inner   wb.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ wb.Hooks = (*Hooks)(nil)

func New(inner wb.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				h.call(f)
			}
		}()
	}
	return h
}

// call shields the workers from panicking hooks.
func (h *Hooks) call(f func()) {
	defer func() { _ = recover() }()
	f()
}

// Close delivers queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost a race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

// OwnedPartitions copies queues since the caller may reuse the slice.
func (h *Hooks) OwnedPartitions(queues []string) {
	cp := append([]string(nil), queues...)
	h.try(func() { h.inner.OwnedPartitions(cp) })
}
func (h *Hooks) LeaseLost(q string)           { h.try(func() { h.inner.LeaseLost(q) }) }
func (h *Hooks) ExpireTaskDropped(key string) { h.try(func() { h.inner.ExpireTaskDropped(key) }) }
func (h *Hooks) LazyExpired(key string)       { h.try(func() { h.inner.LazyExpired(key) }) }
func (h *Hooks) RecordSkipped(q string, err error) {
	h.try(func() { h.inner.RecordSkipped(q, err) })
}
func (h *Hooks) FlushCompleted(q string, k record.Kind, n int, d time.Duration) {
	h.try(func() { h.inner.FlushCompleted(q, k, n, d) })
}
func (h *Hooks) FlushFailed(q string, k record.Kind, n int, err error) {
	h.try(func() { h.inner.FlushFailed(q, k, n, err) })
}
