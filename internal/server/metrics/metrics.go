// Package metrics declares the Prometheus series exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gophdeobf"

// Job outcome labels.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeValidation   = "validation"
	OutcomeInsufficient = "insufficient_balance"
	OutcomeDownload     = "download"
	OutcomeTool         = "tool"
	OutcomeInternal     = "internal"
	OutcomeCancelled    = "cancelled"
)

var JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "jobs_total",
	Help:      "Submitted jobs by outcome.",
}, []string{"outcome"})

var JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "job_duration_seconds",
	Help:      "Wall time of jobs that reached the tool.",
	Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
})

var ToolRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "tool_running",
	Help:      "External tool processes currently running.",
})

// DebitMissed counts successful jobs whose final debit found no balance
// left because a concurrent job spent it first.
var DebitMissed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "debit_missed_total",
	Help:      "Successful jobs delivered without a debit.",
})

var LedgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by kind and result.",
}, []string{"op", "result"})

var TokensGranted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "tokens_granted_total",
	Help:      "Tokens added by administrative grants.",
})
