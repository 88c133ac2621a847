package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/writebehind/record"
)

func newBuf() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestKeysAreRedacted(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{})
	h.ExpireTaskDropped("user:secret")
	if strings.Contains(buf.String(), "user:secret") {
		t.Fatalf("raw key leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "writebehind.expire_task_dropped") {
		t.Fatalf("missing event: %s", buf.String())
	}
}

func TestSampling(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{LazyExpiredEvery: 3, Redact: func(s string) string { return s }})
	for i := 0; i < 6; i++ {
		h.LazyExpired("k")
	}
	if n := strings.Count(buf.String(), "writebehind.lazy_expired"); n != 2 {
		t.Fatalf("logged %d, want 2", n)
	}
}

func TestFlushFailed(t *testing.T) {
	buf, l := newBuf()
	New(l, Options{}).FlushFailed("wb:q:3", record.Delete, 7, errors.New("region offline"))
	out := buf.String()
	for _, want := range []string{"level=ERROR", "queue=wb:q:3", "kind=delete", "records=7", "region offline"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %s", want, out)
		}
	}
}

func TestNilLogger(t *testing.T) {
	New(nil, Options{}).LeaseLost("q")
}
