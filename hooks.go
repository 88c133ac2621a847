package writebehind

import (
	"time"

	"github.com/unkn0wn-root/writebehind/record"
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// They are called from the coordinator cycle, flush workers and request paths.
type Hooks interface {
	// Current set of queue names owned by this process, once per coordinator
	// cycle. A panic here is recovered and logged.
	OwnedPartitions(queues []string)

	// A lease failed renewal and was confirmed invalid; its worker was stopped.
	LeaseLost(queue string)

	// A batch of n records was applied to the durable store.
	FlushCompleted(queue string, kind record.Kind, n int, took time.Duration)

	// A batch of n records failed. Called per failed attempt and once more
	// when records could neither be applied nor requeued on stop.
	FlushFailed(queue string, kind record.Kind, n int, err error)

	// A dequeued record could not be decoded and was skipped.
	RecordSkipped(queue string, err error)

	// An expire task was dropped because its worker queue was full.
	ExpireTaskDropped(key string)

	// Durable metadata for key was found expired and its row deleted on read.
	LazyExpired(key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) OwnedPartitions([]string)                               {}
func (NopHooks) LeaseLost(string)                                       {}
func (NopHooks) FlushCompleted(string, record.Kind, int, time.Duration) {}
func (NopHooks) FlushFailed(string, record.Kind, int, error)            {}
func (NopHooks) RecordSkipped(string, error)                            {}
func (NopHooks) ExpireTaskDropped(string)                               {}
func (NopHooks) LazyExpired(string)                                     {}

// MultiHooks fans each event out to every element in order.
type MultiHooks []Hooks

func (m MultiHooks) OwnedPartitions(queues []string) {
	for _, h := range m {
		h.OwnedPartitions(queues)
	}
}

func (m MultiHooks) LeaseLost(queue string) {
	for _, h := range m {
		h.LeaseLost(queue)
	}
}

func (m MultiHooks) FlushCompleted(queue string, kind record.Kind, n int, took time.Duration) {
	for _, h := range m {
		h.FlushCompleted(queue, kind, n, took)
	}
}

func (m MultiHooks) FlushFailed(queue string, kind record.Kind, n int, err error) {
	for _, h := range m {
		h.FlushFailed(queue, kind, n, err)
	}
}

func (m MultiHooks) RecordSkipped(queue string, err error) {
	for _, h := range m {
		h.RecordSkipped(queue, err)
	}
}

func (m MultiHooks) ExpireTaskDropped(key string) {
	for _, h := range m {
		h.ExpireTaskDropped(key)
	}
}

func (m MultiHooks) LazyExpired(key string) {
	for _, h := range m {
		h.LazyExpired(key)
	}
}
