package writebehind

import (
	"context"
	"time"

	"github.com/unkn0wn-root/writebehind/queue"
	"github.com/unkn0wn-root/writebehind/record"
	"github.com/unkn0wn-root/writebehind/store"
)

// pending is a decoded record kept with its encoded form so it can be
// requeued unchanged.
type pending struct {
	raw []byte
	rec record.Record
}

// flushWorker drains one partition queue into the durable store. It owns its
// buffers; at most one of them is non-empty except after an interrupted
// type-switch flush, where the buffer of the opposite kind to last is older.
type flushWorker struct {
	queue   string
	q       queue.Queue
	durable store.Store
	codec   record.Codec
	log     Logger
	hooks   Hooks

	batchSize     int
	idle          time.Duration
	backoff       time.Duration
	maxBackoff    time.Duration
	drainAttempts int
	drainTimeout  time.Duration

	puts []pending
	dels []pending
	last record.Kind

	base   context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newFlushWorker(name string, opts Options) *flushWorker {
	return &flushWorker{
		queue:         name,
		q:             opts.Queue,
		durable:       opts.Durable,
		codec:         opts.RecordCodec,
		log:           opts.Logger,
		hooks:         opts.Hooks,
		batchSize:     opts.BatchSize,
		idle:          opts.IdleInterval,
		backoff:       opts.RetryBackoff,
		maxBackoff:    opts.RetryMaxBackoff,
		drainAttempts: opts.DrainAttempts,
		drainTimeout:  opts.DrainTimeout,
		done:          make(chan struct{}),
	}
}

// start runs the poll loop until stop. base must outlive the worker; its
// values (not its cancellation) carry into the final drain.
func (w *flushWorker) start(base context.Context) {
	ctx, cancel := context.WithCancel(base)
	w.base, w.cancel = base, cancel
	go w.run(ctx)
}

// stop signals the loop and waits for the final drain to finish.
func (w *flushWorker) stop() {
	w.cancel()
	<-w.done
}

func (w *flushWorker) run(ctx context.Context) {
	defer close(w.done)
	w.log.Info("flush worker started", Fields{"queue": w.queue})
	for ctx.Err() == nil {
		w.step(ctx)
	}
	w.drain()
	w.log.Info("flush worker stopped", Fields{"queue": w.queue})
}

func (w *flushWorker) buf(k record.Kind) *[]pending {
	if k == record.Put {
		return &w.puts
	}
	return &w.dels
}

func opposite(k record.Kind) record.Kind {
	if k == record.Put {
		return record.Delete
	}
	return record.Put
}

// order returns the buffer kinds oldest first.
func (w *flushWorker) order() [2]record.Kind {
	newer := w.last
	if newer == 0 {
		newer = record.Put
	}
	return [2]record.Kind{opposite(newer), newer}
}

func (w *flushWorker) buffered() int { return len(w.puts) + len(w.dels) }

// step performs one poll iteration.
func (w *flushWorker) step(ctx context.Context) {
	raw, ok, err := w.q.Pop(ctx, w.queue)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("queue pop failed", Fields{"queue": w.queue, "err": err})
			sleepCtx(ctx, w.idle)
		}
		return
	}
	if !ok {
		if w.buffered() > 0 {
			w.flushAll(ctx)
			return
		}
		sleepCtx(ctx, w.idle)
		return
	}

	rec, err := w.codec.Decode(raw)
	if err != nil {
		w.log.Warn("skipping malformed record", Fields{"queue": w.queue, "err": err, "size": len(raw)})
		w.hooks.RecordSkipped(w.queue, err)
		return
	}

	// type switch: the other kind must hit the store first
	if other := opposite(rec.Kind); len(*w.buf(other)) > 0 {
		w.flush(ctx, other)
	}
	b := w.buf(rec.Kind)
	*b = append(*b, pending{raw: raw, rec: rec})
	w.last = rec.Kind
	if len(*b) > w.batchSize {
		w.flush(ctx, rec.Kind)
	}
}

func (w *flushWorker) flushAll(ctx context.Context) {
	for _, k := range w.order() {
		if len(*w.buf(k)) > 0 && !w.flush(ctx, k) {
			return
		}
	}
}

// flush applies the buffer of kind k, retrying with exponential backoff while
// ctx is live. Polling is paused meanwhile. It reports whether the buffer
// was applied; on false the records stay buffered for the drain.
func (w *flushWorker) flush(ctx context.Context, k record.Kind) bool {
	delay := w.backoff
	for ctx.Err() == nil {
		err := w.apply(ctx, k)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		w.log.Error("batch apply failed, retrying", Fields{
			"queue": w.queue, "kind": k.String(), "records": len(*w.buf(k)), "backoff": delay, "err": err,
		})
		if !sleepCtx(ctx, delay) {
			return false
		}
		delay = nextBackoff(delay, w.maxBackoff)
	}
	return false
}

// apply writes the buffer of kind k as one batch call and clears it on success.
func (w *flushWorker) apply(ctx context.Context, k record.Kind) error {
	b := w.buf(k)
	n := len(*b)
	if n == 0 {
		return nil
	}
	muts := make([]store.Mutation, 0, n)
	for _, p := range *b {
		muts = append(muts, p.rec.Mutations...)
	}

	start := time.Now()
	var err error
	if k == record.Put {
		err = w.durable.Put(ctx, muts...)
	} else {
		err = w.durable.Delete(ctx, muts...)
	}
	if err != nil {
		w.hooks.FlushFailed(w.queue, k, n, err)
		return err
	}
	took := time.Since(start)
	*b = (*b)[:0]
	w.hooks.FlushCompleted(w.queue, k, n, took)
	w.log.Debug("batch applied", Fields{"queue": w.queue, "kind": k.String(), "records": n, "took": took})
	return nil
}

// drain is the mandatory final flush. Records that still cannot be applied
// go back to the head of the queue, oldest first, for the next owner.
func (w *flushWorker) drain() {
	if w.buffered() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.base), w.drainTimeout)
	defer cancel()

	order := w.order()
	for _, k := range order {
		if !w.drainKind(ctx, k) {
			break // keep the newer buffer behind the older one
		}
	}

	var left []pending
	for _, k := range order {
		left = append(left, *w.buf(k)...)
	}
	if len(left) == 0 {
		return
	}
	raws := make([][]byte, len(left))
	for i, p := range left {
		raws[i] = p.raw
	}
	// the drain deadline has usually passed by now
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(w.base), requeueTimeout)
	defer rcancel()
	if err := w.q.Requeue(rctx, w.queue, raws...); err != nil {
		w.log.Error("records lost: drain and requeue failed", Fields{"queue": w.queue, "records": len(left), "err": err})
		for _, k := range order {
			if n := len(*w.buf(k)); n > 0 {
				w.hooks.FlushFailed(w.queue, k, n, err)
			}
		}
	} else {
		w.log.Warn("requeued unapplied records", Fields{"queue": w.queue, "records": len(left)})
	}
	w.puts, w.dels = nil, nil
}

func (w *flushWorker) drainKind(ctx context.Context, k record.Kind) bool {
	delay := w.backoff
	for attempt := 1; len(*w.buf(k)) > 0; attempt++ {
		err := w.apply(ctx, k)
		if err == nil {
			return true
		}
		w.log.Error("drain apply failed", Fields{"queue": w.queue, "kind": k.String(), "attempt": attempt, "err": err})
		if attempt >= w.drainAttempts || !sleepCtx(ctx, delay) {
			return false
		}
		delay = nextBackoff(delay, w.maxBackoff)
	}
	return true
}
