// Package metrics exposes the prometheus instruments shared across the
// processing pipeline. All methods are nil-receiver safe so components can
// run uninstrumented in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docscan"

type Metrics struct {
	jobsTotal   *prometheus.CounterVec
	jobSeconds  *prometheus.HistogramVec
	queueDepth  *prometheus.GaugeVec
	activeTasks *prometheus.GaugeVec
	cacheHits   *prometheus.CounterVec
	cacheMisses prometheus.Counter
	batchChunks prometheus.Counter
}

// New registers the instrument set on reg. Pass prometheus.NewRegistry()
// per process; a nil reg falls back to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "jobs_total",
			Help: "Jobs that reached an outcome, per lane.",
		}, []string{"lane", "outcome"}),
		jobSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "queue", Name: "job_seconds",
			Help:    "Wall time per finished job attempt.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"lane"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "depth",
			Help: "Jobs per lane and lifecycle bucket.",
		}, []string{"lane", "bucket"}),
		activeTasks: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "active_tasks",
			Help: "Recognition tasks currently executing per lane.",
		}, []string{"lane"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Cache hits per tier.",
		}, []string{"tier"}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Lookups that fell through both tiers.",
		}),
		batchChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "chunks_total",
			Help: "Batch chunks dispatched.",
		}),
	}
}

// JobFinished records one job attempt outcome: completed, retried, failed
// or stalled.
func (m *Metrics) JobFinished(lane, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(lane, outcome).Inc()
	m.jobSeconds.WithLabelValues(lane).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(lane, bucket string, n float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(lane, bucket).Set(n)
}

func (m *Metrics) TaskStarted(lane string) {
	if m == nil {
		return
	}
	m.activeTasks.WithLabelValues(lane).Inc()
}

func (m *Metrics) TaskDone(lane string) {
	if m == nil {
		return
	}
	m.activeTasks.WithLabelValues(lane).Dec()
}

func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) ChunkDispatched() {
	if m == nil {
		return
	}
	m.batchChunks.Inc()
}
