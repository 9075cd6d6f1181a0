package metrics

import (
	"net/http"
	"strconv"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Distribution records worker activity on its own registry so tests and
// multiple processes in one binary never collide on the global one.
type Distribution struct {
	registry      *prometheus.Registry
	jobs          *prometheus.CounterVec
	enqueued      prometheus.Counter
	batchDuration prometheus.Histogram
	batchJobs     prometheus.Histogram
}

func NewDistribution() *Distribution {
	registry := prometheus.NewRegistry()
	m := &Distribution{
		registry: registry,
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitflow",
			Subsystem: "distribution",
			Name:      "jobs_total",
			Help:      "Distribution jobs processed, by outcome and depth.",
		}, []string{"outcome", "depth"}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitflow",
			Subsystem: "distribution",
			Name:      "child_jobs_enqueued_total",
			Help:      "Child jobs created by fan-out.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splitflow",
			Subsystem: "distribution",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one worker batch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		batchJobs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splitflow",
			Subsystem: "distribution",
			Name:      "batch_jobs",
			Help:      "Jobs claimed per batch.",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		}),
	}
	registry.MustRegister(
		m.jobs,
		m.enqueued,
		m.batchDuration,
		m.batchJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Distribution) ObserveJob(outcome entities.JobOutcome, depth int) {
	m.jobs.WithLabelValues(string(outcome), strconv.Itoa(depth)).Inc()
}

func (m *Distribution) ObserveBatch(summary entities.BatchSummary, elapsed time.Duration) {
	m.enqueued.Add(float64(summary.Enqueued))
	m.batchDuration.Observe(elapsed.Seconds())
	m.batchJobs.Observe(float64(summary.Processed))
}

func (m *Distribution) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Distribution) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
