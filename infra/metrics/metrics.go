// Package metrics exposes the replay platform's counters. The
// malformed-skip counter is load-bearing: count-and-skip triage mode
// must never lose the signal that rows were dropped.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	EventsReplayed     prometheus.Counter
	EventsSkipped      prometheus.Counter
	CheckpointsWritten prometheus.Counter
	AnchorsIndexed     prometheus.Counter
	RebuildSeconds     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.EventsReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "booktape", Name: "events_replayed_total",
		Help: "Events applied by builder replay sessions.",
	})
	m.EventsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "booktape", Name: "events_skipped_total",
		Help: "Malformed events dropped under count-and-skip triage.",
	})
	m.CheckpointsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "booktape", Name: "checkpoints_written_total",
		Help: "Checkpoints persisted by scoped rebuilds.",
	})
	m.AnchorsIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "booktape", Name: "snapshot_anchors_total",
		Help: "Snapshot groups detected by index passes.",
	})
	m.RebuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "booktape", Name: "rebuild_duration_seconds",
		Help:    "Wall time of scoped rebuilds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	m.registry.MustRegister(
		m.EventsReplayed,
		m.EventsSkipped,
		m.CheckpointsWritten,
		m.AnchorsIndexed,
		m.RebuildSeconds,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
