// Package metrics defines the Prometheus metric collectors used across the
// services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimitedTotal     prometheus.Counter

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	SegmentsLoaded          prometheus.Gauge
	StoreGeneration         prometheus.Gauge
	StorePublishesTotal     *prometheus.CounterVec
	SnapshotsReclaimedTotal prometheus.Counter
	SegmentsSkippedTotal    *prometheus.CounterVec
	ReloadsTotal            *prometheus.CounterVec
	ReloadDuration          prometheus.Histogram
	ConfigReloadsTotal      *prometheus.CounterVec
	WatcherEventsTotal      *prometheus.CounterVec

	DocsIndexedTotal      prometheus.Counter
	PostingsAppendedTotal prometheus.Counter
	TermsCreatedTotal     prometheus.Counter
	IndexFlushesTotal     *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total requests rejected by the rate limiter.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total term lookups by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Term lookup latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of document ids returned per lookup.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 1000, 10000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		SegmentsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "segments_loaded",
				Help: "Number of segments in the current store snapshot.",
			},
		),
		StoreGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "segment_store_generation",
				Help: "Generation of the current store snapshot.",
			},
		),
		StorePublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segment_store_publishes_total",
				Help: "Total store snapshots published, by kind (update, replace).",
			},
			[]string{"kind"},
		),
		SnapshotsReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "segment_store_snapshots_reclaimed_total",
				Help: "Total superseded snapshots freed after their last reader released them.",
			},
		),
		SegmentsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segments_skipped_total",
				Help: "Total segment files skipped while loading, by reason (empty, invalid, error).",
			},
			[]string{"reason"},
		),
		ReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segment_reloads_total",
				Help: "Total coordinated full reloads by status.",
			},
			[]string{"status"},
		),
		ReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "segment_reload_duration_seconds",
				Help:    "Duration of coordinated full reloads in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ConfigReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "config_reloads_total",
				Help: "Total config reload attempts by status.",
			},
			[]string{"status"},
		),
		WatcherEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watcher_events_total",
				Help: "Total filesystem change events consumed, by source and kind.",
			},
			[]string{"source", "kind"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		PostingsAppendedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postings_appended_total",
				Help: "Total document ids appended to posting lists.",
			},
		),
		TermsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "terms_created_total",
				Help: "Total posting lists created for new terms.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RateLimitedTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SegmentsLoaded,
		m.StoreGeneration,
		m.StorePublishesTotal,
		m.SnapshotsReclaimedTotal,
		m.SegmentsSkippedTotal,
		m.ReloadsTotal,
		m.ReloadDuration,
		m.ConfigReloadsTotal,
		m.WatcherEventsTotal,
		m.DocsIndexedTotal,
		m.PostingsAppendedTotal,
		m.TermsCreatedTotal,
		m.IndexFlushesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
