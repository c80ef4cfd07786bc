package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// QueryTotal counts matcher queries by statement and outcome.
	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolematch_query_total",
			Help: "Total number of matching queries issued",
		},
		[]string{"statement", "outcome"},
	)

	// QueryDuration tracks matcher query latency.
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rolematch_query_duration_seconds",
			Help:    "Latency of matching queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"statement"},
	)

	// AssignTotal counts assignment attempts by outcome.
	AssignTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolematch_assign_total",
			Help: "Total number of assignment attempts",
		},
		[]string{"outcome"},
	)

	// PendingRoles is the number of roles with an edit in flight.
	PendingRoles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rolematch_pending_roles",
			Help: "Roles with an assignment edit in flight",
		},
	)

	// PrunedTotal counts journal records removed by retention.
	PrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rolematch_journal_pruned_total",
			Help: "Assignment journal records removed by retention",
		},
	)
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeEmpty    = "empty"
)

func init() {
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(AssignTotal)
	prometheus.MustRegister(PendingRoles)
	prometheus.MustRegister(PrunedTotal)
}
