// Package telemetry exposes Prometheus collectors for the orchestration core.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksAdmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_tasks_admitted_total",
			Help: "Total tasks admitted to the queue, labeled by domain.",
		},
		[]string{"domain"},
	)

	tasksRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_tasks_rejected_total",
			Help: "Total submissions rejected, labeled by reason.",
		},
		[]string{"reason"},
	)

	tasksRetriedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_tasks_retried_total",
			Help: "Total retry resubmissions, labeled by domain.",
		},
		[]string{"domain"},
	)

	tasksTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_tasks_terminal_total",
			Help: "Tasks that left the system without success, labeled by reason.",
		},
		[]string{"reason"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvestd_queue_depth",
			Help: "Number of queued tasks (pending plus delayed retries).",
		},
	)

	domainBackoff = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvestd_domain_backoff_factor",
			Help: "Current backoff factor per domain.",
		},
		[]string{"domain"},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_outcomes_total",
			Help: "Fetch outcomes processed, labeled by domain and status.",
		},
		[]string{"domain", "status"},
	)

	outcomeLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvestd_outcome_latency_seconds",
			Help:    "Fetch latency as reported by outcomes, labeled by domain.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	dedupVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_dedup_verdicts_total",
			Help: "Deduplication verdicts, labeled by result.",
		},
		[]string{"result"},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_alerts_total",
			Help: "Domain health alerts raised, labeled by reason.",
		},
		[]string{"reason"},
	)

	policyDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_policy_decisions_total",
			Help: "Backoff policy decisions, labeled by action.",
		},
		[]string{"action"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestd_http_requests_total",
			Help: "HTTP requests served, labeled by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvestd_http_request_duration_seconds",
			Help:    "HTTP request duration, labeled by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAdmission counts an admitted task.
func ObserveAdmission(domain string) {
	tasksAdmittedTotal.WithLabelValues(domain).Inc()
}

// ObserveRejection counts a rejected submission.
func ObserveRejection(reason string) {
	tasksRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveRetry counts a retry resubmission.
func ObserveRetry(domain string) {
	tasksRetriedTotal.WithLabelValues(domain).Inc()
}

// ObserveTerminal counts a task leaving the system without success.
func ObserveTerminal(reason string) {
	tasksTerminalTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the current queue depth.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetBackoff records a domain's current backoff factor.
func SetBackoff(domain string, factor float64) {
	domainBackoff.WithLabelValues(domain).Set(factor)
}

// ObserveOutcome records one processed fetch outcome.
func ObserveOutcome(domain, status string, latency time.Duration) {
	outcomesTotal.WithLabelValues(domain, status).Inc()
	if latency > 0 {
		outcomeLatencySeconds.WithLabelValues(domain).Observe(latency.Seconds())
	}
}

// ObserveDedup records a dedup verdict: "unique", "duplicate", or "degraded".
func ObserveDedup(result string) {
	dedupVerdictsTotal.WithLabelValues(result).Inc()
}

// ObserveAlert records a raised domain alert.
func ObserveAlert(reason string) {
	alertsTotal.WithLabelValues(reason).Inc()
}

// ObservePolicyDecision records the action a backoff policy selected.
func ObservePolicyDecision(action string) {
	policyDecisionsTotal.WithLabelValues(action).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
