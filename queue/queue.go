// Package queue defines the durable FIFO queues that hold encoded write
// records between a producer and the single flush worker of a partition.
package queue

import "context"

// Queue is a set of named FIFO queues.
//
// Push appends at the producer end. Pop removes from the consumer end without
// blocking and reports ok=false when the queue is empty. Requeue returns items
// to the consumer end so that the next Pop yields items[0], then items[1], ...
type Queue interface {
	Push(ctx context.Context, name string, item []byte) error
	Pop(ctx context.Context, name string) (item []byte, ok bool, err error)
	Requeue(ctx context.Context, name string, items ...[]byte) error
	Len(ctx context.Context, name string) (int64, error)
}
