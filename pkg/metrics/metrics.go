// Package metrics defines the Prometheus collectors shared by the indexer
// and searchd and exposes the scrape handler. Every metric lives under the
// cusearch namespace.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cusearch"

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	BatchesTotal         *prometheus.CounterVec
	BatchLatency         *prometheus.HistogramVec
	BatchResultsCount    prometheus.Histogram
	QueriesExecutedTotal prometheus.Counter
	QueryCandidates      prometheus.Histogram
	TermLookupsTotal     *prometheus.CounterVec

	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec

	DocsIndexedTotal   prometheus.Counter
	IndexBuildsTotal   *prometheus.CounterVec
	IndexBuildDuration prometheus.Histogram
	OpenIndexes        prometheus.Gauge
	IndexDocCount      *prometheus.GaugeVec
}

// New registers on the default registry. It panics if called twice in one
// process.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers every collector on reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := factory{reg: reg}
	return &Metrics{
		HTTPRequestsTotal: f.counterVec("http", "requests_total",
			"HTTP requests by method, route and status.", "method", "path", "status"),
		HTTPRequestDuration: f.histogramVec("http", "request_duration_seconds",
			"HTTP request latency.", latencyBuckets, "method", "path"),
		HTTPRequestsInFlight: f.gauge("http", "requests_in_flight",
			"HTTP requests currently being served."),

		BatchesTotal: f.counterVec("search", "batches_total",
			"Similarity batches by outcome (ok, zero_result, invalid, error).", "outcome"),
		BatchLatency: f.histogramVec("search", "batch_latency_seconds",
			"Similarity batch latency by cache status.", latencyBuckets, "cache_status"),
		BatchResultsCount: f.histogram("search", "batch_results",
			"Results returned per batch.", []float64{0, 1, 5, 10, 25, 50, 100}),
		QueriesExecutedTotal: f.counter("search", "queries_executed_total",
			"Queries executed against an index."),
		QueryCandidates: f.histogram("search", "query_candidates",
			"Documents scored per query.", prometheus.ExponentialBuckets(1, 4, 8)),
		TermLookupsTotal: f.counterVec("search", "term_lookups_total",
			"Term dictionary lookups by field and outcome (cached, resolved, unresolved, error).", "field", "outcome"),

		CacheHitsTotal: f.counterVec("cache", "hits_total",
			"Result cache hits by tier.", "tier"),
		CacheMissesTotal: f.counter("cache", "misses_total",
			"Result cache misses."),
		CircuitBreakerState: f.gaugeVec("cache", "circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=open, 2=half-open).", "name"),

		DocsIndexedTotal: f.counter("index", "docs_indexed_total",
			"Method documents indexed."),
		IndexBuildsTotal: f.counterVec("index", "builds_total",
			"Project index builds by status.", "status"),
		IndexBuildDuration: f.histogram("index", "build_duration_seconds",
			"Time to build one project index.", prometheus.DefBuckets),
		OpenIndexes: f.gauge("index", "open",
			"Project indexes currently open."),
		IndexDocCount: f.gaugeVec("index", "documents",
			"Documents per open project index.", "project"),
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// factory builds namespaced collectors and registers each one as it is
// created.
type factory struct {
	reg prometheus.Registerer
}

func (f factory) register(c prometheus.Collector) {
	f.reg.MustRegister(c)
}

func (f factory) counter(subsystem, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	f.register(c)
	return c
}

func (f factory) counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	f.register(c)
	return c
}

func (f factory) gauge(subsystem, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	f.register(g)
	return g
}

func (f factory) gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	f.register(g)
	return g
}

func (f factory) histogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets})
	f.register(h)
	return h
}

func (f factory) histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
	f.register(h)
	return h
}
