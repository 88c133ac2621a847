// Package sloghooks logs writebehind hook events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	wb "github.com/unkn0wn-root/writebehind"
	"github.com/unkn0wn-root/writebehind/record"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	FlushCompletedEvery uint64
	ExpireDroppedEvery  uint64
	LazyExpiredEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	flushCtr   atomic.Uint64
	droppedCtr atomic.Uint64
	expiredCtr atomic.Uint64
}

var _ wb.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) OwnedPartitions(queues []string) {
	if h.l == nil {
		return
	}
	h.l.Debug("writebehind.owned_partitions",
		"count", len(queues),
		"queues", strings.Join(queues, ","))
}

func (h *Hooks) LeaseLost(queue string) {
	if h.l == nil {
		return
	}
	h.l.Warn("writebehind.lease_lost", "queue", queue)
}

func (h *Hooks) FlushCompleted(queue string, kind record.Kind, n int, took time.Duration) {
	if h.l == nil || !sample(h.opts.FlushCompletedEvery, &h.flushCtr) {
		return
	}
	h.l.Debug("writebehind.flush_completed",
		"queue", queue,
		"kind", kind.String(),
		"records", n,
		"took", took)
}

func (h *Hooks) FlushFailed(queue string, kind record.Kind, n int, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("writebehind.flush_failed",
		"queue", queue,
		"kind", kind.String(),
		"records", n,
		"err", err)
}

func (h *Hooks) RecordSkipped(queue string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("writebehind.record_skipped",
		"queue", queue,
		"err", err)
}

func (h *Hooks) ExpireTaskDropped(key string) {
	if h.l == nil || !sample(h.opts.ExpireDroppedEvery, &h.droppedCtr) {
		return
	}
	h.l.Warn("writebehind.expire_task_dropped", "key", h.redact(key))
}

func (h *Hooks) LazyExpired(key string) {
	if h.l == nil || !sample(h.opts.LazyExpiredEvery, &h.expiredCtr) {
		return
	}
	h.l.Debug("writebehind.lazy_expired", "key", h.redact(key))
}
