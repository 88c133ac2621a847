// Package metrics exports writebehind hook events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	wb "github.com/unkn0wn-root/writebehind"
	"github.com/unkn0wn-root/writebehind/record"
)

const namespace = "writebehind"

// Hooks implements writebehind.Hooks. Keys are never used as labels.
type Hooks struct {
	OwnedPartitionsGauge prometheus.Gauge
	PartitionOwned       *prometheus.GaugeVec
	LeasesLost           *prometheus.CounterVec
	RecordsFlushed       *prometheus.CounterVec
	FlushLatency         *prometheus.HistogramVec
	FlushFailures        *prometheus.CounterVec
	RecordsSkipped       *prometheus.CounterVec
	ExpireDropped        prometheus.Counter
	LazyExpirations      prometheus.Counter

	owned map[string]bool // touched only from OwnedPartitions (coordinator cycle)
}

var _ wb.Hooks = (*Hooks)(nil)

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Hooks, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	h := &Hooks{
		OwnedPartitionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "owned_partitions",
			Help:      "Partitions currently owned by this instance.",
		}),
		PartitionOwned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_owned",
			Help:      "1 when this instance owns the queue, else 0.",
		}, []string{"queue"}),
		LeasesLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_lost_total",
			Help:      "Leases that failed renewal and were confirmed invalid.",
		}, []string{"queue"}),
		RecordsFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_flushed_total",
			Help:      "Write records applied to the durable store.",
		}, []string{"queue", "kind"}),
		FlushLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Durable store batch call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		FlushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Failed durable store batch attempts.",
		}, []string{"queue", "kind"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Malformed records skipped by flush workers.",
		}, []string{"queue"}),
		ExpireDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expire_tasks_dropped_total",
			Help:      "Expire tasks shed because the worker queue was full.",
		}),
		LazyExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lazy_expirations_total",
			Help:      "Expired durable rows deleted on read.",
		}),
		owned: make(map[string]bool),
	}
	for _, c := range []prometheus.Collector{
		h.OwnedPartitionsGauge, h.PartitionOwned, h.LeasesLost, h.RecordsFlushed,
		h.FlushLatency, h.FlushFailures, h.RecordsSkipped, h.ExpireDropped, h.LazyExpirations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) OwnedPartitions(queues []string) {
	now := make(map[string]bool, len(queues))
	for _, q := range queues {
		now[q] = true
		h.PartitionOwned.WithLabelValues(q).Set(1)
	}
	for q := range h.owned {
		if !now[q] {
			h.PartitionOwned.WithLabelValues(q).Set(0)
		}
	}
	h.owned = now
	h.OwnedPartitionsGauge.Set(float64(len(queues)))
}

func (h *Hooks) LeaseLost(queue string) { h.LeasesLost.WithLabelValues(queue).Inc() }

func (h *Hooks) FlushCompleted(queue string, kind record.Kind, n int, took time.Duration) {
	h.RecordsFlushed.WithLabelValues(queue, kind.String()).Add(float64(n))
	h.FlushLatency.WithLabelValues(kind.String()).Observe(took.Seconds())
}

func (h *Hooks) FlushFailed(queue string, kind record.Kind, _ int, _ error) {
	h.FlushFailures.WithLabelValues(queue, kind.String()).Inc()
}

func (h *Hooks) RecordSkipped(queue string, _ error) { h.RecordsSkipped.WithLabelValues(queue).Inc() }
func (h *Hooks) ExpireTaskDropped(string)            { h.ExpireDropped.Inc() }
func (h *Hooks) LazyExpired(string)                  { h.LazyExpirations.Inc() }

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
