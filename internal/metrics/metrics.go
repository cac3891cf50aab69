// Package metrics holds the Prometheus collectors of the report service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ortto_upstream_requests_total",
			Help: "Outbound report requests by kind and result",
		},
		[]string{"kind", "result"}, // result: ok, not_found, rate_limited, error
	)

	UpstreamQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ortto_upstream_queue_depth",
			Help: "Requests waiting in the upstream request queue",
		},
	)

	UpstreamBackoffs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ortto_upstream_backoffs_total",
			Help: "Number of queue-wide waits triggered by HTTP 429",
		},
	)

	ResponseCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ortto_response_cache_hits_total",
			Help: "In-process response cache hits",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ortto_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_cache_reads_total",
			Help: "Report cache reads by outcome",
		},
		[]string{"outcome"}, // hit, partial, miss, stale, error
	)

	CacheRecordsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_cache_records_added_total",
			Help: "Records appended to report cache documents",
		},
	)

	RefillRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_refill_runs_total",
			Help: "Background refill runs by trigger result",
		},
		[]string{"result"}, // started, skipped
	)

	RefillItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_refill_items_total",
			Help: "Items processed by the refill worker by status",
		},
		[]string{"status"},
	)

	RefillActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "report_refill_active",
			Help: "Background refill workers currently running",
		},
	)
)
