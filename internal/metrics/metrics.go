// Package metrics holds the Prometheus collectors shared by the cache, the
// loader and the layout engine. They register on the default registry and
// are exposed by the HTTP front end under /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gitodyssey"

var (
	// CacheLookups counts repository cache reads.
	// Labels: tier (persistent, memory), result (hit, miss, expired, error)
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Repository cache lookups by tier and result",
	}, []string{"tier", "result"})

	// CacheWrites counts repository cache writes.
	// Labels: tier, result (ok, error)
	CacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "writes_total",
		Help:      "Repository cache writes by tier and result",
	}, []string{"tier", "result"})

	CacheDemotions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "demotions_total",
		Help:      "Times the cache fell back to memory-only mode",
	})

	// LoaderCycles counts finished load cycles.
	// Labels: outcome (cache_hit, found, ingested, failed)
	LoaderCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "loader",
		Name:      "cycles_total",
		Help:      "Repository load cycles by outcome",
	}, []string{"outcome"})

	LoaderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "loader",
		Name:      "duration_seconds",
		Help:      "Repository load cycle latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	LayoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "layout",
		Name:      "duration_seconds",
		Help:      "Graph layout latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"direction"})

	LayoutNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "layout",
		Name:      "nodes",
		Help:      "Number of nodes per layout run",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000},
	})

	// APIRequests counts remote backend calls.
	// Labels: endpoint, status (ok, not_found, error)
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Remote backend requests by endpoint and status",
	}, []string{"endpoint", "status"})

	// HTTPRequests counts requests served by the local front end.
	// Labels: route, method, code
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Front end requests by route, method and status code",
	}, []string{"route", "method", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Front end request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
