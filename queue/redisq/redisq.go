// Package redisq implements queue.Queue on Redis lists.
//
// Producers LPUSH, the consumer RPOPs, so the list tail is the oldest item.
// Requeue RPUSHes in reverse to put items back at the tail in order.
package redisq

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/writebehind/queue"
)

var ErrNilClient = errors.New("redisq: nil client")

// Queue stores each named queue as one Redis list.
type Queue struct {
	rdb goredis.UniversalClient
}

var _ queue.Queue = (*Queue)(nil)

// New returns a Queue on client.
func New(client goredis.UniversalClient) (*Queue, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Queue{rdb: client}, nil
}

// Push adds item at the head of the list.
func (q *Queue) Push(ctx context.Context, name string, item []byte) error {
	return q.rdb.LPush(ctx, name, item).Err()
}

// Pop takes the oldest item and reports false when the list is empty.
func (q *Queue) Pop(ctx context.Context, name string) ([]byte, bool, error) {
	b, err := q.rdb.RPop(ctx, name).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Requeue returns items to the tail so that items[0] is popped next.
func (q *Queue) Requeue(ctx context.Context, name string, items ...[]byte) error {
	if len(items) == 0 {
		return nil
	}
	args := make([]any, len(items))
	for i := range items {
		args[i] = items[len(items)-1-i]
	}
	return q.rdb.RPush(ctx, name, args...).Err()
}

// Len is the list length.
func (q *Queue) Len(ctx context.Context, name string) (int64, error) {
	return q.rdb.LLen(ctx, name).Result()
}
