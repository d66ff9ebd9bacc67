package metrics

import "github.com/prometheus/client_golang/prometheus"

// Entitlement Prometheus metrics.
var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "decisions_total",
			Help:      "Access decisions by reason",
		},
		[]string{"reason", "allowed"},
	)

	LedgerConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "ledger_consume_total",
			Help:      "Ledger consumption attempts by kind and result",
		},
		[]string{"kind", "result"}, // kind: quota|trial, result: ok|premium|exhausted|released|synced
	)

	LedgerStaleWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "ledger_stale_writes_total",
			Help:      "Ledger snapshots dropped because a newer one was already stored",
		},
	)

	LedgerResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "ledger_resets_total",
			Help:      "Ledger resets by trigger",
		},
		[]string{"trigger"}, // boundary|explicit|bulk
	)

	TrialOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "trial_outcomes_total",
			Help:      "Trial action outcomes",
		},
		[]string{"outcome"}, // succeeded|failed|suppressed
	)

	ClassifiedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "classified_errors_total",
			Help:      "Backend rejections by classified kind",
		},
		[]string{"kind"},
	)

	AssistantRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "assistant_requests_total",
			Help:      "Total number of assistant completion requests",
		},
		[]string{"model", "status"},
	)

	AssistantRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "entitled",
			Name:      "assistant_request_duration_seconds",
			Help:      "Assistant completion duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	AssistantTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "assistant_tokens_total",
			Help:      "Total tokens consumed by assistant completions",
		},
		[]string{"model", "type"}, // type: prompt|completion|total
	)
)

var entitlementMetricsRegistered bool

// RegisterEntitlementMetrics registers HTTP and entitlement metrics. Repeated calls are no-ops.
func RegisterEntitlementMetrics() {
	if entitlementMetricsRegistered {
		return
	}
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(LedgerConsumeTotal)
	prometheus.MustRegister(LedgerResetsTotal)
	prometheus.MustRegister(LedgerStaleWritesTotal)
	prometheus.MustRegister(TrialOutcomesTotal)
	prometheus.MustRegister(ClassifiedErrorsTotal)
	prometheus.MustRegister(AssistantRequestsTotal)
	prometheus.MustRegister(AssistantRequestDuration)
	prometheus.MustRegister(AssistantTokensTotal)
	entitlementMetricsRegistered = true
}
