package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Dispatch outcome labels.
const (
	outcomeDispatched    = "dispatched"
	outcomeResolveFailed = "resolve_failed"
	outcomeEntityMissing = "entity_missing"
	outcomeSubmitFailed  = "submit_failed"
	outcomeError         = "error"
)

// Status-check result labels.
const (
	checkPending        = "pending"
	checkTerminal       = "terminal"
	checkTransientError = "transient_error"
	checkUnknownJob     = "unknown_job"
)

var (
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dispatches_total",
			Help: "Total number of action dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	pollChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_poll_checks_total",
			Help: "Total number of job status checks by result.",
		},
		[]string{"result"},
	)

	actionsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_actions_finalized_total",
			Help: "Total number of actions driven to a terminal state by status.",
		},
		[]string{"status"},
	)

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_operations_total",
			Help: "Total number of report operations applied by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(dispatchesTotal)
	prometheus.MustRegister(pollChecksTotal)
	prometheus.MustRegister(actionsFinalizedTotal)
	prometheus.MustRegister(operationsTotal)
}
