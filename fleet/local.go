package fleet

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process membership registry. Members heartbeat; a member
// whose last heartbeat is older than retention no longer counts and is
// pruned by the optional sweep loop. It is useful for running several
// coordinators in one process.
type Local struct {
	mu      sync.RWMutex
	members map[string]time.Time
	now     func() time.Time
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup

	retention time.Duration
}

// NewLocal creates a registry. retention <= 0 keeps members until Leave.
func NewLocal(sweepInterval, retention time.Duration) *Local {
	l := &Local{
		members:   make(map[string]time.Time),
		now:       time.Now,
		retention: retention,
	}
	if sweepInterval > 0 && retention > 0 {
		l.ticker = time.NewTicker(sweepInterval)
		l.stopCh = make(chan struct{})
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for {
				select {
				case <-l.ticker.C:
					l.Sweep()
				case <-l.stopCh:
					return
				}
			}
		}()
	}
	return l
}

// SetClock overrides the clock. Call before use.
func (l *Local) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Heartbeat registers id or refreshes its timestamp.
func (l *Local) Heartbeat(id string) {
	l.mu.Lock()
	l.members[id] = l.now()
	l.mu.Unlock()
}

// Leave removes id immediately.
func (l *Local) Leave(id string) {
	l.mu.Lock()
	delete(l.members, id)
	l.mu.Unlock()
}

func (l *Local) alive(seen, now time.Time) bool {
	return l.retention <= 0 || !seen.Before(now.Add(-l.retention))
}

// InstanceCount counts live members.
func (l *Local) InstanceCount(context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now()
	n := 0
	for _, seen := range l.members {
		if l.alive(seen, now) {
			n++
		}
	}
	return n, nil
}

// Sweep prunes members past retention.
func (l *Local) Sweep() {
	if l.retention <= 0 {
		return
	}
	l.mu.Lock()
	now := l.now()
	for id, seen := range l.members {
		if !l.alive(seen, now) {
			delete(l.members, id)
		}
	}
	l.mu.Unlock()
}

// Len returns the number of registered members, live or not.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}

func (l *Local) Close(_ context.Context) error {
	if l.stopCh != nil {
		close(l.stopCh)
		if l.ticker != nil {
			l.ticker.Stop() // stop ticker before waiting
		}
		l.wg.Wait()
	}
	return nil
}
