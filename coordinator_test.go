package writebehind

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/writebehind/lease"
	"github.com/unkn0wn-root/writebehind/lease/memlock"
	"github.com/unkn0wn-root/writebehind/queue/memq"
	"github.com/unkn0wn-root/writebehind/record"
	"github.com/unkn0wn-root/writebehind/router"
	"github.com/unkn0wn-root/writebehind/store"
	"github.com/unkn0wn-root/writebehind/store/memstore"
)

// fleetSize is a settable FleetCounter.
type fleetSize struct {
	n   atomic.Int64
	err error
}

func newFleetSize(n int) *fleetSize {
	f := &fleetSize{}
	f.n.Store(int64(n))
	return f
}

func (f *fleetSize) InstanceCount(context.Context) (int, error) {
	return int(f.n.Load()), f.err
}

func newTestCoordinator(t *testing.T, locker lease.Locker, fleet FleetCounter, partitions int, optsOpt func(*Options)) *Coordinator {
	t.Helper()
	opts := Options{
		Durable:        memstore.New(),
		Queue:          memq.New(),
		Locker:         locker,
		Fleet:          fleet,
		Partitions:     partitions,
		AcquireTimeout: time.Millisecond,
		IdleInterval:   time.Millisecond,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	c, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func TestNewCoordinatorValidates(t *testing.T) {
	base := Options{Durable: memstore.New(), Queue: memq.New(), Locker: memlock.NewTable().Locker()}

	o := base
	o.Locker = nil
	if _, err := NewCoordinator(o); !errors.Is(err, ErrNilLocker) {
		t.Fatalf("want ErrNilLocker, got %v", err)
	}
	o = base
	o.Queue = nil
	if _, err := NewCoordinator(o); !errors.Is(err, ErrNilQueue) {
		t.Fatalf("want ErrNilQueue, got %v", err)
	}
	o = base
	o.CheckInterval, o.LeaseTTL = time.Second, time.Second
	if _, err := NewCoordinator(o); !errors.Is(err, ErrLeaseTTL) {
		t.Fatalf("want ErrLeaseTTL, got %v", err)
	}
	o = base
	o.CheckInterval, o.LeaseTTL, o.DrainTimeout = time.Second, 10*time.Second, 9*time.Second
	if _, err := NewCoordinator(o); !errors.Is(err, ErrLeaseBudget) {
		t.Fatalf("want ErrLeaseBudget, got %v", err)
	}
	o.DrainTimeout = 5 * time.Second
	if _, err := NewCoordinator(o); err != nil {
		t.Fatalf("5s drain within a 10s lease: %v", err)
	}
}

func TestFleetConvergence(t *testing.T) {
	ctx := context.Background()
	table := memlock.NewTable()
	fleet := newFleetSize(3)
	var cs []*Coordinator
	for i := 0; i < 3; i++ {
		cs = append(cs, newTestCoordinator(t, table.Locker(), fleet, 10, nil))
	}

	for round := 0; round < 2; round++ {
		for _, c := range cs {
			if err := c.RunOnce(ctx); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
		}
	}

	var counts []int
	seen := map[string]int{}
	for _, c := range cs {
		owned := c.Owned()
		counts = append(counts, len(owned))
		for _, q := range owned {
			seen[q]++
		}
	}
	if fmt.Sprint(counts) != "[4 4 2]" {
		t.Fatalf("owned counts=%v, want [4 4 2]", counts)
	}
	if len(seen) != 10 {
		t.Fatalf("distinct owned=%d, want 10", len(seen))
	}
	for q, n := range seen {
		if n != 1 {
			t.Fatalf("%s owned by %d coordinators", q, n)
		}
	}
}

func TestFleetConvergenceProperty(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct{ fleet, partitions int }{{1, 1}, {1, 7}, {2, 5}, {4, 4}, {5, 3}, {3, 16}} {
		t.Run(fmt.Sprintf("F%d_P%d", tc.fleet, tc.partitions), func(t *testing.T) {
			table := memlock.NewTable()
			fleet := newFleetSize(tc.fleet)
			var cs []*Coordinator
			for i := 0; i < tc.fleet; i++ {
				cs = append(cs, newTestCoordinator(t, table.Locker(), fleet, tc.partitions, nil))
			}
			for _, c := range cs {
				_ = c.RunOnce(ctx)
			}
			total := 0
			seen := map[string]bool{}
			for _, c := range cs {
				for _, q := range c.Owned() {
					if seen[q] {
						t.Fatalf("%s double-owned", q)
					}
					seen[q] = true
					total++
				}
			}
			if total != tc.partitions {
				t.Fatalf("owned total=%d, want %d", total, tc.partitions)
			}
		})
	}
}

func TestRebalanceOnFleetGrowth(t *testing.T) {
	ctx := context.Background()
	table := memlock.NewTable()
	fleet := newFleetSize(1)
	a := newTestCoordinator(t, table.Locker(), fleet, 4, nil)
	b := newTestCoordinator(t, table.Locker(), fleet, 4, nil)

	_ = a.RunOnce(ctx)
	if got := len(a.Owned()); got != 4 {
		t.Fatalf("single instance owns %d, want 4", got)
	}

	fleet.n.Store(2)
	_ = a.RunOnce(ctx) // sheds two
	_ = b.RunOnce(ctx) // picks them up

	if fmt.Sprint(a.Owned()) != "[wb:q:0 wb:q:1]" {
		t.Fatalf("a owns %v", a.Owned())
	}
	if fmt.Sprint(b.Owned()) != "[wb:q:2 wb:q:3]" {
		t.Fatalf("b owns %v", b.Owned())
	}
	if table.Holder(router.LockName("wb:q:3")) == "" {
		t.Fatalf("moved partition should be leased")
	}
}

func TestLeaseLossStopsWorker(t *testing.T) {
	ctx := context.Background()
	table := memlock.NewTable()
	h := &recHooks{}
	c := newTestCoordinator(t, table.Locker(), nil, 3, func(o *Options) { o.Hooks = h })
	_ = c.RunOnce(ctx)
	before := table.Holder(router.LockName("wb:q:1"))

	table.Expire(router.LockName("wb:q:1"))
	_ = c.RunOnce(ctx)
	if snap := h.snapshot(); len(snap.lost) != 1 || snap.lost[0] != "wb:q:1" {
		t.Fatalf("lost=%v", snap.lost)
	}
	// the lost partition is released and reacquired under a fresh lease
	if len(c.Owned()) != 3 {
		t.Fatalf("owned after loss=%v", c.Owned())
	}
	if after := table.Holder(router.LockName("wb:q:1")); after == "" || after == before {
		t.Fatalf("q1 holder before=%q after=%q, want a new token", before, after)
	}
}

// blockingStore blocks every Put until its context ends and reports each
// entry on entered.
type blockingStore struct {
	*memstore.Store
	entered chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{Store: memstore.New(), entered: make(chan struct{}, 8)}
}

func (s *blockingStore) Put(ctx context.Context, _ ...store.Mutation) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func waitSignal(t *testing.T, what string, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRenewPrecedesSlowDrain(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	table := memlock.NewTable()
	table.SetClock(clk.Now)
	fleet := newFleetSize(1)
	slow := newBlockingStore()
	q := memq.New()
	_ = q.Push(ctx, "wb:q:1", encodeRecord(t, record.Put, "slow"))

	const ttl = time.Hour
	a := newTestCoordinator(t, table.Locker(), fleet, 2, func(o *Options) {
		o.Durable, o.Queue = slow, q
		o.LeaseTTL, o.CheckInterval = ttl, time.Minute
		o.DrainTimeout, o.DrainAttempts = 300*time.Millisecond, 1
	})
	b := newTestCoordinator(t, table.Locker(), fleet, 2, nil)

	_ = a.RunOnce(ctx)
	waitSignal(t, "q1 worker to block on its batch", slow.entered)

	clk.Advance(ttl * 3 / 4)
	fleet.n.Store(2)
	done := make(chan struct{})
	go func() {
		_ = a.RunOnce(ctx) // sheds q1 and waits for its drain
		close(done)
	}()
	waitSignal(t, "q1 drain", slow.entered)

	// past the original expiry; renewed leases must still hold
	clk.Advance(ttl / 2)
	_ = b.RunOnce(ctx)
	if owned := b.Owned(); len(owned) != 0 {
		t.Fatalf("b acquired %v while a still runs their workers", owned)
	}

	waitSignal(t, "a cycle", done)
	if fmt.Sprint(a.Owned()) != "[wb:q:0]" {
		t.Fatalf("a owns %v", a.Owned())
	}
	if n, _ := q.Len(ctx, "wb:q:1"); n != 1 {
		t.Fatalf("unapplied record should be requeued, len=%d", n)
	}
}

type panicHooks struct{ NopHooks }

func (panicHooks) OwnedPartitions([]string) { panic("monitor down") }

func TestPublishPanicDoesNotAbortCycle(t *testing.T) {
	c := newTestCoordinator(t, memlock.NewTable().Locker(), nil, 2, func(o *Options) { o.Hooks = panicHooks{} })
	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(c.Owned()) != 2 {
		t.Fatalf("owned=%v", c.Owned())
	}
}

func TestFleetCountErrorSkipsRebalance(t *testing.T) {
	ctx := context.Background()
	fleet := newFleetSize(1)
	fleet.err = errBoom
	c := newTestCoordinator(t, memlock.NewTable().Locker(), fleet, 2, nil)
	if err := c.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(c.Owned()) != 0 {
		t.Fatalf("no partitions should be acquired without a fleet count")
	}
}

// failingRelease wraps a Locker and fails every Release.
type failingRelease struct{ lease.Locker }

func (failingRelease) Release(context.Context, *lease.Lease) error { return errBoom }

func TestShutdownReleasesEverything(t *testing.T) {
	ctx := context.Background()
	table := memlock.NewTable()
	c := newTestCoordinator(t, table.Locker(), nil, 3, nil)
	_ = c.RunOnce(ctx)

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(c.Owned()) != 0 {
		t.Fatalf("owned after shutdown=%v", c.Owned())
	}
	for _, q := range router.QueueNames("wb:q:", 3) {
		if table.Holder(router.LockName(q)) != "" {
			t.Fatalf("%s still leased", q)
		}
	}
	if err := c.RunOnce(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("RunOnce after shutdown: %v", err)
	}
}

func TestShutdownContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, failingRelease{memlock.NewTable().Locker()}, nil, 2, nil)
	_ = c.RunOnce(ctx)

	err := c.Shutdown(ctx)
	var se *ShutdownError
	if !errors.As(err, &se) {
		t.Fatalf("want *ShutdownError, got %v", err)
	}
	names := make([]string, 0, len(se.Partitions))
	for n := range se.Partitions {
		names = append(names, n)
	}
	sort.Strings(names)
	if fmt.Sprint(names) != "[wb:q:0 wb:q:1]" {
		t.Fatalf("failed partitions=%v", names)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("ShutdownError should unwrap to causes")
	}
	if len(c.Owned()) != 0 {
		t.Fatalf("workers must be stopped even when release fails")
	}
}

func TestStartFlushesProducedWrites(t *testing.T) {
	ctx := context.Background()
	q := memq.New()
	durable := memstore.New()
	opts := Options{
		Durable:        durable,
		Queue:          q,
		Locker:         memlock.NewTable().Locker(),
		Partitions:     4,
		CheckInterval:  10 * time.Millisecond,
		LeaseTTL:       time.Second,
		AcquireTimeout: time.Millisecond,
		IdleInterval:   time.Millisecond,
		DrainTimeout:   500 * time.Millisecond,
	}
	p, err := NewProducer(opts)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("k%d", i)
		if err := p.Put(ctx, key, store.NewPut([]byte(key), store.Family, "v", []byte("x"))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// same row overwritten in order; the last write must win
	for i := 0; i < 5; i++ {
		_ = p.Put(ctx, "hot", store.NewPut([]byte("hot"), store.Family, "v", []byte(fmt.Sprint(i))))
	}

	c, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start: %v", err)
	}
	waitFor(t, "queues drained", func() bool { return durable.Len() == 21 })
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	res, _ := durable.Get(ctx, []byte("hot"), "v")
	if got := string(res.Value(store.Family, "v")); got != "4" {
		t.Fatalf("hot=%q, want last write 4", got)
	}
}
