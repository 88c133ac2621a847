package writebehind

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/writebehind/queue"
	"github.com/unkn0wn-root/writebehind/record"
	"github.com/unkn0wn-root/writebehind/router"
	"github.com/unkn0wn-root/writebehind/store"
)

// Producer enqueues write records to partition queues.
type Producer struct {
	q      queue.Queue
	codec  record.Codec
	prefix string
	n      int
}

// NewProducer requires Options.Queue.
func NewProducer(opts Options) (*Producer, error) {
	if opts.Queue == nil {
		return nil, ErrNilQueue
	}
	opts = opts.withDefaults()
	return &Producer{
		q:      opts.Queue,
		codec:  opts.RecordCodec,
		prefix: opts.QueuePrefix,
		n:      opts.ProducerPartitions,
	}, nil
}

// QueueFor returns the queue name key is routed to.
func (p *Producer) QueueFor(key string) string {
	return router.QueueName(p.prefix, router.Route(key, p.n))
}

// Put enqueues muts as one put record on the partition queue of key.
func (p *Producer) Put(ctx context.Context, key string, muts ...store.Mutation) error {
	return p.push(ctx, key, record.Put, muts)
}

// Delete enqueues muts as one delete record on the partition queue of key.
func (p *Producer) Delete(ctx context.Context, key string, muts ...store.Mutation) error {
	return p.push(ctx, key, record.Delete, muts)
}

func (p *Producer) push(ctx context.Context, key string, kind record.Kind, muts []store.Mutation) error {
	b, err := p.codec.Encode(record.Record{Kind: kind, Mutations: muts})
	if err != nil {
		return err
	}
	name := p.QueueFor(key)
	if err := p.q.Push(ctx, name, b); err != nil {
		return fmt.Errorf("writebehind: enqueue %s to %s: %w", kind, name, err)
	}
	return nil
}
