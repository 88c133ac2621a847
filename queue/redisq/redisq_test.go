package redisq

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q, err := New(rdb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q, mr
}

func pop(t *testing.T, q *Queue, name string) string {
	t.Helper()
	b, ok, err := q.Pop(context.Background(), name)
	if err != nil || !ok {
		t.Fatalf("pop %s: ok=%v err=%v", name, ok, err)
	}
	return string(b)
}

func TestNewRejectsNilClient(t *testing.T) {
	if _, err := New(nil); err != ErrNilClient {
		t.Fatalf("want ErrNilClient, got %v", err)
	}
}

func TestPushPopFIFO(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	if _, ok, err := q.Pop(ctx, "q0"); ok || err != nil {
		t.Fatalf("empty pop ok=%v err=%v", ok, err)
	}
	for _, v := range []string{"a", "b", "c"} {
		if err := q.Push(ctx, "q0", []byte(v)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if n, _ := q.Len(ctx, "q0"); n != 3 {
		t.Fatalf("len=%d", n)
	}
	for _, want := range []string{"a", "b", "c"} {
		if got := pop(t, q, "q0"); got != want {
			t.Fatalf("pop=%q, want %q", got, want)
		}
	}
}

func TestRequeuePutsItemsBackInOrder(t *testing.T) {
	ctx := context.Background()
	q, mr := newQueue(t)

	for _, v := range []string{"a", "b", "c", "d"} {
		_ = q.Push(ctx, "q1", []byte(v))
	}
	first, second := pop(t, q, "q1"), pop(t, q, "q1")
	if err := q.Requeue(ctx, "q1", []byte(first), []byte(second)); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if err := q.Requeue(ctx, "q1"); err != nil {
		t.Fatalf("empty requeue: %v", err)
	}
	// newest at the head, oldest at the tail
	if list, _ := mr.List("q1"); len(list) != 4 || list[3] != "a" || list[2] != "b" {
		t.Fatalf("list=%v", list)
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		if got := pop(t, q, "q1"); got != want {
			t.Fatalf("pop=%q, want %q", got, want)
		}
	}
	if n, _ := q.Len(ctx, "q1"); n != 0 {
		t.Fatalf("len=%d after drain", n)
	}
}
