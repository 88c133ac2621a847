package writebehind

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/writebehind/queue/memq"
	"github.com/unkn0wn-root/writebehind/record"
	"github.com/unkn0wn-root/writebehind/router"
	"github.com/unkn0wn-root/writebehind/store"
)

func TestProducerRoutesAndEncodes(t *testing.T) {
	ctx := context.Background()
	q := memq.New()
	p, err := NewProducer(Options{Queue: q, QueuePrefix: "t:", Partitions: 8, ProducerPartitions: 4})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	want := router.QueueName("t:", router.Route("user:1", 4))
	if got := p.QueueFor("user:1"); got != want {
		t.Fatalf("QueueFor=%q, want %q", got, want)
	}

	del := store.NewDeleteRow([]byte("row"))
	if err := p.Delete(ctx, "user:1", del); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	raw, ok, _ := q.Pop(ctx, want)
	if !ok {
		t.Fatalf("nothing enqueued on %s", want)
	}
	rec, err := record.Default().Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Kind != record.Delete || len(rec.Mutations) != 1 || string(rec.Mutations[0].Row) != "row" {
		t.Fatalf("record=%+v", rec)
	}
}

func TestProducerRejectsEmptyRecord(t *testing.T) {
	p, _ := NewProducer(Options{Queue: memq.New()})
	if err := p.Put(context.Background(), "k"); !errors.Is(err, record.ErrEmpty) {
		t.Fatalf("want ErrEmpty, got %v", err)
	}
	if _, err := NewProducer(Options{}); !errors.Is(err, ErrNilQueue) {
		t.Fatalf("want ErrNilQueue, got %v", err)
	}
}

func TestConsumersCoverLargerPartitionCount(t *testing.T) {
	o := Options{Partitions: 8, ProducerPartitions: 12}.withDefaults()
	if got := o.consumerPartitions(); got != 12 {
		t.Fatalf("consumerPartitions=%d, want 12", got)
	}
	o = Options{Partitions: 8}.withDefaults()
	if got := o.consumerPartitions(); got != 8 {
		t.Fatalf("consumerPartitions=%d, want 8", got)
	}
}
