package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OracleCalls counts provider calls by outcome: ok, no_route, unavailable
	OracleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "oracle_provider_calls_total", Help: "Travel-time provider calls by outcome."},
		[]string{"outcome"},
	)
	// OracleRetries counts retried provider attempts
	OracleRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "oracle_provider_retries_total", Help: "Retried travel-time provider attempts."},
	)
	// OracleCache counts cache lookups by result: hit, miss, error
	OracleCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "oracle_cache_lookups_total", Help: "Travel-time cache lookups by result."},
		[]string{"result"},
	)
	// OracleCoalesced counts callers that shared another caller's in-flight call
	OracleCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "oracle_coalesced_total", Help: "Travel-time lookups served by a shared in-flight call."},
	)
	// OracleInflight is the number of provider calls holding a concurrency slot
	OracleInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "oracle_inflight_calls", Help: "Provider calls currently in flight."},
	)
	// OracleLatency tracks provider call latency in seconds
	OracleLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "oracle_provider_latency_seconds", Help: "Travel-time provider latency in seconds.", Buckets: []float64{.025, .05, .1, .25, .5, 1, 2, 5, 10}},
	)

	// Optimizations counts optimization runs by outcome
	Optimizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimizations_total", Help: "Optimization runs by outcome."},
		[]string{"outcome"},
	)
	// OptimizationDuration records optimization wall time in seconds
	OptimizationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimization_duration_seconds", Help: "Optimization duration in seconds.", Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60}},
		[]string{"outcome"},
	)
	// Candidates records candidate set sizes by side
	Candidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimization_candidates", Help: "Candidate set size per side.", Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500}},
		[]string{"side"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OracleCalls)
		Registry.MustRegister(OracleRetries)
		Registry.MustRegister(OracleCache)
		Registry.MustRegister(OracleCoalesced)
		Registry.MustRegister(OracleInflight)
		Registry.MustRegister(OracleLatency)
		Registry.MustRegister(Optimizations)
		Registry.MustRegister(OptimizationDuration)
		Registry.MustRegister(Candidates)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
