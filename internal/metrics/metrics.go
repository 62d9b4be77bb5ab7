// Package metrics registers the Prometheus collectors for the Job
// Orchestration Engine, served the same way the reference repo's
// internal/metrics package mounts promhttp.Handler() at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "summarizer",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage by stage and outcome",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "outcome"},
	)

	stageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "summarizer",
			Name:      "stage_outcomes_total",
			Help:      "Total stage completions by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	dedupLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "summarizer",
			Name:      "dedup_lookups_total",
			Help:      "Dedup index lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	modelRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "summarizer",
			Name:      "model_requests_total",
			Help:      "Model Client requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	modelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "summarizer",
			Name:      "model_request_duration_seconds",
			Help:      "Model Client call duration by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	cleanupDeletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "summarizer",
			Name:      "cleanup_deletions_total",
			Help:      "Job directories deleted by the Cleanup Worker, by reason",
		},
		[]string{"reason"},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "summarizer",
			Name:      "breaker_events_total",
			Help:      "Model Client circuit breaker events by provider, stage and action",
		},
		[]string{"provider", "stage", "action"},
	)
)

// Init registers every collector. Call once at startup.
func Init() {
	prometheus.MustRegister(stageDuration, stageOutcomes, dedupLookups, modelRequests, modelLatency, cleanupDeletions, breakerEvents)
}

// Handler returns the http.Handler for /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveStage records one stage's terminal outcome and duration.
func ObserveStage(stage, outcome string, dur time.Duration) {
	stageOutcomes.WithLabelValues(stage, outcome).Inc()
	stageDuration.WithLabelValues(stage, outcome).Observe(dur.Seconds())
}

// ObserveDedup records a dedup index lookup result.
func ObserveDedup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	dedupLookups.WithLabelValues(result).Inc()
}

// ObserveModelRequest records one Model Client call's outcome and latency.
func ObserveModelRequest(provider, model, result string, dur time.Duration) {
	modelRequests.WithLabelValues(provider, model, result).Inc()
	modelLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

// IncCleanupDeletion records one job directory deletion by the Cleanup Worker.
func IncCleanupDeletion(reason string) { cleanupDeletions.WithLabelValues(reason).Inc() }

// BreakerOpened/BreakerClosed record circuit breaker transitions.
func BreakerOpened(provider, stage string) { breakerEvents.WithLabelValues(provider, stage, "opened").Inc() }
func BreakerClosed(provider, stage string) { breakerEvents.WithLabelValues(provider, stage, "closed").Inc() }
