// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "listening_stats"

var (
	// JobRuns counts scheduled or triggered job runs by job and outcome
	// (ok, error, skipped).
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Job runs by job name and outcome.",
	}, []string{"job", "outcome"})

	// JobDuration observes job run latency.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Job run duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})

	// PlaysIngested counts plays handed to the store.
	PlaysIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plays_ingested_total",
		Help:      "Play records persisted (including no-op duplicates).",
	})

	// RecordsRejected counts source records quarantined by validation.
	RecordsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_rejected_total",
		Help:      "Source records that failed validation.",
	})

	// EnrichmentFailures counts best-effort enrichment failures by stage.
	EnrichmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_failures_total",
		Help:      "Enrichment failures by stage.",
	}, []string{"stage"})

	// DaysAggregated counts rebuilt days.
	DaysAggregated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "days_aggregated_total",
		Help:      "Days rebuilt by the daily aggregator.",
	})

	// QueryDuration observes range query latency.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Range query duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// QueryPartial counts sub-fetch failures that degraded a range query.
	QueryPartial = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_partial_total",
		Help:      "Range query sub-fetch failures by part.",
	}, []string{"part"})

	// UpstreamRequests counts Spotify requests by endpoint and outcome.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Spotify API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})
)
