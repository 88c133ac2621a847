package writebehind

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/writebehind/lease"
	"github.com/unkn0wn-root/writebehind/router"
)

// ownership binds a held lease to the flush worker of its queue.
type ownership struct {
	queue  string
	lease  *lease.Lease
	worker *flushWorker
}

// Coordinator keeps this process's share of the partitions: it acquires and
// releases one lease per queue as the fleet grows or shrinks, renews what it
// holds and runs a flush worker per owned queue.
//
// All state is mutated under mu by one cycle at a time.
type Coordinator struct {
	opts       Options
	partitions int

	mu     sync.Mutex
	owned  map[int]*ownership
	closed bool
	base   context.Context

	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// NewCoordinator requires Options.Durable, Queue and Locker.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Durable == nil {
		return nil, ErrNilDurableStore
	}
	if opts.Queue == nil {
		return nil, ErrNilQueue
	}
	if opts.Locker == nil {
		return nil, ErrNilLocker
	}
	opts = opts.withDefaults()
	if opts.LeaseTTL <= opts.CheckInterval {
		return nil, ErrLeaseTTL
	}
	// After renewing, a cycle may block on one parallel drain and one round
	// of acquisitions. Both must fit before the next renewal is late.
	worst := opts.DrainTimeout + time.Duration(opts.consumerPartitions())*opts.AcquireTimeout
	if worst >= opts.LeaseTTL-opts.CheckInterval {
		return nil, ErrLeaseBudget
	}
	return &Coordinator{
		opts:       opts,
		partitions: opts.consumerPartitions(),
		owned:      make(map[int]*ownership),
		base:       context.Background(),
	}, nil
}

// Start runs one cycle and then one every CheckInterval until ctx is done or
// Shutdown is called. Workers keep ctx values but not its cancellation; they
// stop only on release or Shutdown.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.stopLoop != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.base = context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(ctx)
	c.stopLoop = cancel
	c.loopDone = make(chan struct{})
	c.mu.Unlock()

	_ = c.RunOnce(loopCtx)
	go c.loop(loopCtx)
	return nil
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.loopDone)
	t := time.NewTicker(c.opts.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.RunOnce(ctx); err != nil {
				return
			}
		}
	}
}

// RunOnce runs a single coordination cycle. Held leases are renewed first so
// that a slow drain during rebalancing cannot outlast them. Failures of
// individual lease operations are logged and retried on the next cycle; only
// a closed coordinator returns an error.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.renew(ctx)
	fleet, err := c.opts.Fleet.InstanceCount(ctx)
	if err != nil {
		c.opts.Logger.Warn("fleet count failed, skipping rebalance", Fields{"err": err})
	} else {
		if fleet < 1 {
			fleet = 1
		}
		target := (c.partitions + fleet - 1) / fleet
		switch n := len(c.owned); {
		case n < target:
			c.acquire(ctx, target)
		case n > target:
			c.shed(ctx, n-target)
		}
	}
	c.publish(c.ownedNames())
	return nil
}

// acquire scans partitions in index order until target are owned.
func (c *Coordinator) acquire(ctx context.Context, target int) {
	for i := 0; i < c.partitions && len(c.owned) < target; i++ {
		if _, ok := c.owned[i]; ok {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		name := router.QueueName(c.opts.QueuePrefix, i)
		l, err := c.opts.Locker.TryAcquire(ctx, router.LockName(name), c.opts.AcquireTimeout, c.opts.LeaseTTL)
		if err != nil {
			c.opts.Logger.Warn("lease acquire failed", Fields{"queue": name, "err": err})
			continue
		}
		if l == nil {
			continue
		}
		w := newFlushWorker(name, c.opts)
		w.start(c.base)
		c.owned[i] = &ownership{queue: name, lease: l, worker: w}
		c.opts.Logger.Info("partition acquired", Fields{"queue": name, "owned": len(c.owned), "target": target})
	}
}

// shed gives up n partitions, highest index first.
func (c *Coordinator) shed(ctx context.Context, n int) {
	idx := c.ownedIndexes()
	if n > len(idx) {
		n = len(idx)
	}
	for name, err := range c.release(ctx, idx[len(idx)-n:]) {
		if err != nil {
			c.opts.Logger.Warn("lease release failed", Fields{"queue": name, "err": err})
		} else {
			c.opts.Logger.Info("partition released", Fields{"queue": name})
		}
	}
}

// renew extends every held lease. A lease is dropped only when renewal fails
// and IsValid confirms it is gone. Lost partitions are released after every
// other lease has been renewed.
func (c *Coordinator) renew(ctx context.Context) {
	var lost []int
	for _, i := range c.ownedIndexes() {
		o := c.owned[i]
		ok, err := c.opts.Locker.Renew(ctx, o.lease)
		if ok && err == nil {
			continue
		}
		valid, verr := c.opts.Locker.IsValid(ctx, o.lease)
		if verr != nil {
			c.opts.Logger.Warn("lease renew failed, validity unknown", Fields{"queue": o.queue, "err": err, "valid_err": verr})
			continue
		}
		if valid {
			c.opts.Logger.Debug("lease renew failed but still valid", Fields{"queue": o.queue, "err": err})
			continue
		}
		c.opts.Logger.Warn("lease lost", Fields{"queue": o.queue, "err": err})
		c.opts.Hooks.LeaseLost(o.queue)
		lost = append(lost, i)
	}
	for name, err := range c.release(ctx, lost) {
		if err != nil {
			c.opts.Logger.Debug("release of lost lease failed", Fields{"queue": name, "err": err})
		}
	}
}

// release stops the workers of idx concurrently, waits for their drains and
// then releases the leases. It returns the release result per queue name.
// Partitions leave the ownership map even when Release fails.
func (c *Coordinator) release(ctx context.Context, idx []int) map[string]error {
	if len(idx) == 0 {
		return nil
	}
	gone := make([]*ownership, 0, len(idx))
	for _, i := range idx {
		gone = append(gone, c.owned[i])
		delete(c.owned, i)
	}
	var wg sync.WaitGroup
	for _, o := range gone {
		wg.Add(1)
		go func(w *flushWorker) {
			defer wg.Done()
			w.stop()
		}(o.worker)
	}
	wg.Wait()

	res := make(map[string]error, len(gone))
	for _, o := range gone {
		res[o.queue] = c.opts.Locker.Release(ctx, o.lease)
	}
	return res
}

func (c *Coordinator) publish(names []string) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Error("owned partitions hook panicked", Fields{"panic": r})
		}
	}()
	c.opts.Hooks.OwnedPartitions(names)
}

func (c *Coordinator) ownedIndexes() []int {
	idx := make([]int, 0, len(c.owned))
	for i := range c.owned {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func (c *Coordinator) ownedNames() []string {
	names := make([]string, 0, len(c.owned))
	for _, i := range c.ownedIndexes() {
		names = append(names, c.owned[i].queue)
	}
	return names
}

// Owned returns the owned queue names in partition order.
func (c *Coordinator) Owned() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownedNames()
}

// Shutdown stops the cycle loop, then stops every worker (waiting for its
// drain) and releases every lease. It keeps going past failures and reports
// them as a *ShutdownError.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop, done := c.stopLoop, c.loopDone
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	failed := make(map[string]error)
	for name, err := range c.release(ctx, c.ownedIndexes()) {
		if err != nil {
			c.opts.Logger.Error("shutdown: lease release failed", Fields{"queue": name, "err": err})
			failed[name] = err
			continue
		}
		c.opts.Logger.Info("shutdown: partition released", Fields{"queue": name})
	}
	c.publish(nil)
	if len(failed) > 0 {
		return &ShutdownError{Partitions: failed}
	}
	return nil
}
