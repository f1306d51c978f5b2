package infrastructure

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourusername/episode-offline-go/internal/domain"
)

// Metrics holds the Prometheus collectors of the download pipeline.
// All methods are safe on a nil receiver so metrics can be switched off.
type Metrics struct {
	registry *prometheus.Registry

	jobsStarted     prometheus.Counter
	jobsFinished    *prometheus.CounterVec
	segmentsFetched prometheus.Counter
	segmentsFailed  prometheus.Counter
	bytesFetched    prometheus.Counter
	activeJobs      prometheus.Gauge
	queuedJobs      prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "episode_offline",
			Name:      "jobs_started_total",
			Help:      "Download jobs that began running.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "episode_offline",
			Name:      "jobs_finished_total",
			Help:      "Download jobs that left the running state, by final status.",
		}, []string{"status"}),
		segmentsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "episode_offline",
			Name:      "segments_fetched_total",
			Help:      "Segments fetched successfully.",
		}),
		segmentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "episode_offline",
			Name:      "segments_failed_total",
			Help:      "Segments skipped after a fetch failure.",
		}),
		bytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "episode_offline",
			Name:      "bytes_fetched_total",
			Help:      "Segment bytes received.",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "episode_offline",
			Name:      "active_jobs",
			Help:      "Jobs currently holding a concurrency slot.",
		}),
		queuedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "episode_offline",
			Name:      "queued_jobs",
			Help:      "Jobs waiting for a concurrency slot.",
		}),
	}

	m.registry.MustRegister(
		m.jobsStarted,
		m.jobsFinished,
		m.segmentsFetched,
		m.segmentsFailed,
		m.bytesFetched,
		m.activeJobs,
		m.queuedJobs,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsStarted.Inc()
}

func (m *Metrics) JobFinished(status domain.JobStatus) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SegmentFetched(bytes int64) {
	if m == nil {
		return
	}
	m.segmentsFetched.Inc()
	m.bytesFetched.Add(float64(bytes))
}

func (m *Metrics) SegmentFailed() {
	if m == nil {
		return
	}
	m.segmentsFailed.Inc()
}

// SetQueueDepth records the active and queued job counts
func (m *Metrics) SetQueueDepth(active, queued int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(active))
	m.queuedJobs.Set(float64(queued))
}
