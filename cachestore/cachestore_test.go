package cachestore

import (
	"errors"
	"testing"
)

func TestReplyBeforeAndAfterSet(t *testing.T) {
	r := &Reply[string]{}
	if _, err := r.Result(); !errors.Is(err, ErrNotExecuted) {
		t.Fatalf("expected ErrNotExecuted, got %v", err)
	}
	r.Set("zset", nil)
	if v, err := r.Result(); err != nil || v != "zset" {
		t.Fatalf("Result=%q,%v", v, err)
	}

	boom := errors.New("boom")
	b := &Reply[bool]{}
	b.Set(true, boom)
	if b.Val() {
		t.Fatalf("Val should be zero on error")
	}
}
