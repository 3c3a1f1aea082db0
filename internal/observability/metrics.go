package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the extraction pipeline.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted  *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	extractionTime *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	storageWrites  *prometheus.CounterVec
}

// NewMetrics creates collectors registered on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "text_extractor",
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted for processing, by strategy.",
		}, []string{"strategy"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "text_extractor",
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"strategy", "state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "text_extractor",
			Name:      "job_duration_seconds",
			Help:      "Wall time from job start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"strategy"}),
		extractionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "text_extractor",
			Name:      "extraction_duration_seconds",
			Help:      "Time spent inside a strategy's Extract call.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"strategy"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "text_extractor",
			Name:      "cache_lookups_total",
			Help:      "Extraction cache lookups by result.",
		}, []string{"result"}),
		storageWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "text_extractor",
			Name:      "storage_writes_total",
			Help:      "Results persisted through storage profiles.",
		}, []string{"profile", "result"}),
	}

	reg.MustRegister(
		m.jobsSubmitted,
		m.jobsFinished,
		m.jobDuration,
		m.extractionTime,
		m.cacheLookups,
		m.storageWrites,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) JobSubmitted(strategy string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(strategy).Inc()
}

func (m *Metrics) JobFinished(strategy, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(strategy, state).Inc()
	m.jobDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func (m *Metrics) ExtractionObserved(strategy string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.extractionTime.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) StorageWrite(profile string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storageWrites.WithLabelValues(profile, result).Inc()
}
