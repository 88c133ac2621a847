package writebehind

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/writebehind/router"
)

type expireTask struct {
	key string
	at  int64 // unix millis
}

type expireFunc func(ctx context.Context, key string, at int64) (int64, error)

// expireScheduler applies TTL updates on a fixed pool of workers. A key always
// lands on the same worker so its updates stay ordered. A full worker queue
// sheds the task instead of blocking the caller.
type expireScheduler struct {
	queues  []chan expireTask
	apply   expireFunc
	timeout time.Duration
	log     Logger
	hooks   Hooks

	quit    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	once    sync.Once

	// mu orders submissions before close; stop holds it exclusively.
	mu     sync.RWMutex
	closed bool
}

func newExpireScheduler(workers, size int, timeout time.Duration, apply expireFunc, log Logger, hooks Hooks) *expireScheduler {
	s := &expireScheduler{
		queues:  make([]chan expireTask, workers),
		apply:   apply,
		timeout: timeout,
		log:     log,
		hooks:   hooks,
		quit:    make(chan struct{}),
	}
	for i := range s.queues {
		s.queues[i] = make(chan expireTask, size)
	}
	return s
}

func (s *expireScheduler) start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	for i, q := range s.queues {
		s.wg.Add(1)
		go s.work(i, q)
	}
}

// submit enqueues without blocking and reports whether the task was accepted.
func (s *expireScheduler) submit(key string, at int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	i := router.Route(key, len(s.queues))
	select {
	case s.queues[i] <- expireTask{key: key, at: at}:
		return true
	default:
		s.log.Warn("expire task dropped, worker queue full", Fields{"key": key, "at": at, "worker": i})
		s.hooks.ExpireTaskDropped(key)
		return false
	}
}

func (s *expireScheduler) work(id int, q chan expireTask) {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			// best-effort drain of what was accepted before close
			for {
				select {
				case t := <-q:
					s.run(id, t)
				default:
					return
				}
			}
		case t := <-q:
			s.run(id, t)
		}
	}
}

func (s *expireScheduler) run(id int, t expireTask) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.apply(ctx, t.key, t.at); err != nil {
		s.log.Error("expire task failed", Fields{"key": t.key, "at": t.at, "worker": id, "err": err})
	}
}

// stop refuses new tasks, lets workers drain and waits for them or ctx.
func (s *expireScheduler) stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.quit) })
	if !s.started.Load() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
