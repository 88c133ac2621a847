// Package memq is an in-process queue.Queue.
package memq

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/writebehind/queue"
)

type Queue struct {
	mu sync.Mutex
	qs map[string][][]byte
}

var _ queue.Queue = (*Queue)(nil)

func New() *Queue { return &Queue{qs: make(map[string][][]byte)} }

func (q *Queue) Push(_ context.Context, name string, item []byte) error {
	q.mu.Lock()
	q.qs[name] = append(q.qs[name], append([]byte(nil), item...))
	q.mu.Unlock()
	return nil
}

func (q *Queue) Pop(_ context.Context, name string) ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.qs[name]
	if len(items) == 0 {
		return nil, false, nil
	}
	head := items[0]
	items[0] = nil
	q.qs[name] = items[1:]
	return head, true, nil
}

func (q *Queue) Requeue(_ context.Context, name string, items ...[]byte) error {
	if len(items) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	front := make([][]byte, 0, len(items)+len(q.qs[name]))
	for _, it := range items {
		front = append(front, append([]byte(nil), it...))
	}
	q.qs[name] = append(front, q.qs[name]...)
	return nil
}

func (q *Queue) Len(_ context.Context, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.qs[name])), nil
}
