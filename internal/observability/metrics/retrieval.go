package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RetrievalMetrics implements ports.RetrievalMetrics.
type RetrievalMetrics struct {
	service string

	cacheLookups   *prometheus.CounterVec
	buildsTotal    *prometheus.CounterVec
	buildDuration  *prometheus.HistogramVec
	builtChunks    *prometheus.HistogramVec
	searchesTotal  *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.HistogramVec
}

func NewRetrievalMetrics(service string, registerer prometheus.Registerer) *RetrievalMetrics {
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Bundle cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	buildsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "builds_total",
			Help:      "Index bundle builds by status.",
		},
		[]string{"service", "status"},
	)
	buildDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "build_duration_seconds",
			Help:      "Index bundle build duration in seconds, including the cache write.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	builtChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks",
			Help:      "Distribution of chunk counts per built bundle.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"service"},
	)
	searchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Hybrid searches by status.",
		},
		[]string{"service", "status"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Hybrid search duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of returned passages per successful search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)

	registerer.MustRegister(cacheLookups, buildsTotal, buildDuration, builtChunks, searchesTotal, searchDuration, searchResults)

	return &RetrievalMetrics{
		service:        service,
		cacheLookups:   cacheLookups,
		buildsTotal:    buildsTotal,
		buildDuration:  buildDuration,
		builtChunks:    builtChunks,
		searchesTotal:  searchesTotal,
		searchDuration: searchDuration,
		searchResults:  searchResults,
	}
}

func (m *RetrievalMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(m.service, result).Inc()
}

func (m *RetrievalMetrics) RecordBuild(status string, chunks int, duration time.Duration) {
	m.buildsTotal.WithLabelValues(m.service, status).Inc()
	m.buildDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if status == "success" {
		m.builtChunks.WithLabelValues(m.service).Observe(float64(chunks))
	}
}

func (m *RetrievalMetrics) RecordSearch(status string, results int, duration time.Duration) {
	m.searchesTotal.WithLabelValues(m.service, status).Inc()
	m.searchDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if status == "success" {
		m.searchResults.WithLabelValues(m.service).Observe(float64(results))
	}
}
