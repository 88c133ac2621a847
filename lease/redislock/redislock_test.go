package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/writebehind/lease"
)

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l, err := New(rdb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, mr
}

func TestNewRejectsNilClient(t *testing.T) {
	if _, err := New(nil); err != ErrNilClient {
		t.Fatalf("want ErrNilClient, got %v", err)
	}
}

func TestExclusiveAcquire(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	la, err := l.TryAcquire(ctx, "q0~lock", 0, time.Minute)
	if err != nil || la == nil {
		t.Fatalf("acquire: lease=%v err=%v", la, err)
	}
	if got, _ := mr.Get("q0~lock"); got != la.Token {
		t.Fatalf("stored token=%q, want %q", got, la.Token)
	}
	if ttl := mr.TTL("q0~lock"); ttl != time.Minute {
		t.Fatalf("server ttl=%v", ttl)
	}

	lb, err := l.TryAcquire(ctx, "q0~lock", 20*time.Millisecond, time.Minute)
	if err != nil || lb != nil {
		t.Fatalf("held lock must not be acquired: lease=%v err=%v", lb, err)
	}
	if _, err := l.TryAcquire(ctx, "x", 0, 0); err != lease.ErrInvalidTTL {
		t.Fatalf("want ErrInvalidTTL, got %v", err)
	}
}

func TestForeignTokenCannotRenewOrRelease(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	own, _ := l.TryAcquire(ctx, "r", 0, 10*time.Second)
	forged := &lease.Lease{Resource: "r", Token: "someone-else", TTL: time.Hour}

	if ok, err := l.Renew(ctx, forged); err != nil || ok {
		t.Fatalf("foreign renew=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("r"); ttl != 10*time.Second {
		t.Fatalf("foreign renew changed ttl to %v", ttl)
	}
	if err := l.Release(ctx, forged); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if !mr.Exists("r") {
		t.Fatalf("foreign release deleted the lease")
	}
	if ok, _ := l.IsValid(ctx, forged); ok {
		t.Fatalf("foreign lease reported valid")
	}
	if ok, _ := l.IsValid(ctx, own); !ok {
		t.Fatalf("owner lease reported invalid")
	}

	if err := l.Release(ctx, own); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("r") {
		t.Fatalf("owner release left the key")
	}
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	old, _ := l.TryAcquire(ctx, "r", 0, 2*time.Second)
	mr.FastForward(time.Second)
	if ok, err := l.Renew(ctx, old); err != nil || !ok {
		t.Fatalf("renew before expiry=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("r"); ttl != 2*time.Second {
		t.Fatalf("renew did not reset ttl: %v", ttl)
	}

	mr.FastForward(3 * time.Second)
	if ok, _ := l.IsValid(ctx, old); ok {
		t.Fatalf("expired lease reported valid")
	}
	if ok, _ := l.Renew(ctx, old); ok {
		t.Fatalf("renew after expiry must fail")
	}

	fresh, err := l.TryAcquire(ctx, "r", 0, 2*time.Second)
	if err != nil || fresh == nil {
		t.Fatalf("re-acquire after expiry: lease=%v err=%v", fresh, err)
	}
	if fresh.Token == old.Token {
		t.Fatalf("re-acquired lease reused the old token")
	}
	// a late release by the previous owner must not drop the new lease
	_ = l.Release(ctx, old)
	if ok, _ := l.IsValid(ctx, fresh); !ok {
		t.Fatalf("stale release dropped the new lease")
	}
}
