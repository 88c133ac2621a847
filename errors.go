package writebehind

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrClosed          = errors.New("writebehind: closed")
	ErrNilCacheStore   = errors.New("writebehind: cache store is required")
	ErrNilDurableStore = errors.New("writebehind: durable store is required")
	ErrNilQueue        = errors.New("writebehind: queue is required")
	ErrNilLocker       = errors.New("writebehind: locker is required")
	ErrLeaseTTL        = errors.New("writebehind: lease ttl must exceed check interval")
	ErrAlreadyStarted  = errors.New("writebehind: coordinator already started")
	ErrLeaseBudget     = errors.New("writebehind: drain timeout plus acquire time must fit within lease ttl minus check interval")
)

// ShutdownError lists partitions whose lease could not be released during
// Coordinator.Shutdown. Every other partition was still stopped and released.
type ShutdownError struct {
	Partitions map[string]error // queue name -> release error
}

func (e *ShutdownError) Error() string {
	names := make([]string, 0, len(e.Partitions))
	for n := range e.Partitions {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", n, e.Partitions[n]))
	}
	return fmt.Sprintf("writebehind: shutdown: %d partition(s) not released: %s",
		len(names), strings.Join(parts, "; "))
}

func (e *ShutdownError) Unwrap() []error {
	errs := make([]error, 0, len(e.Partitions))
	for _, err := range e.Partitions {
		errs = append(errs, err)
	}
	return errs
}
