// Package metrics defines the Prometheus collectors used by the index manager
// and the search engine. Each Metrics value owns its own registry so that
// several independent instances can live in one process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "content_search"

var (
	latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	resultBuckets  = []float64{0, 1, 5, 10, 25, 50, 100}
)

type Metrics struct {
	Registry *prometheus.Registry

	// search
	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	ProviderWarnings   *prometheus.CounterVec

	// result cache
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CacheInvalidations *prometheus.CounterVec

	// index
	DocsIndexedTotal  *prometheus.CounterVec
	DocsRejectedTotal *prometheus.CounterVec
	CommitsTotal      *prometheus.CounterVec
	CommitDuration    prometheus.Histogram
	CompactionsTotal  *prometheus.CounterVec
	LiveDocuments     *prometheus.GaugeVec
	ActiveSegments    *prometheus.GaugeVec

	CircuitBreakerState *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	counter := func(sub, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help}, labels)
	}
	gauge := func(sub, name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help}, labels)
	}

	return &Metrics{
		Registry: reg,

		SearchQueriesTotal: counter("search", "queries_total",
			"Search queries by outcome (hit, miss, timeout, error).", "collection", "outcome"),
		SearchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "search", Name: "latency_seconds",
			Help: "Search latency in seconds.", Buckets: latencyBuckets,
		}, []string{"cache_status"}),
		SearchResultsCount: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "search", Name: "results",
			Help: "Results returned per search.", Buckets: resultBuckets,
		}),
		ProviderWarnings: counter("search", "provider_warnings_total",
			"Provider warnings by provider and error kind.", "provider", "kind"),

		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total", Help: "Result cache hits.",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total", Help: "Result cache misses.",
		}),
		CacheInvalidations: counter("cache", "invalidations_total",
			"Result cache invalidations by collection.", "collection"),

		DocsIndexedTotal: counter("index", "docs_indexed_total",
			"Documents accepted into the pending set.", "collection"),
		DocsRejectedTotal: counter("index", "docs_rejected_total",
			"Documents rejected at ingestion by error kind.", "collection", "kind"),
		CommitsTotal: counter("index", "commits_total",
			"Commits by status.", "collection", "status"),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "index", Name: "commit_duration_seconds",
			Help: "Time to stage and publish a generation.", Buckets: prometheus.DefBuckets,
		}),
		CompactionsTotal: counter("index", "compactions_total",
			"Segment compactions by status.", "collection", "status"),
		LiveDocuments: gauge("index", "live_documents",
			"Live documents in the current generation.", "collection"),
		ActiveSegments: gauge("index", "active_segments",
			"Segments referenced by the current generation.", "collection"),

		CircuitBreakerState: gauge("", "circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=open, 2=half-open).", "name"),
	}
}

// Handler serves this instance's registry only.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
