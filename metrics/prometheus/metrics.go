// Package prometheus provides Prometheus metrics for workflow runs.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hyperagent"

var (
	// runsActive is a gauge of currently executing runs.
	runsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of currently executing workflow runs",
		},
	)

	// runsStartedTotal is a counter of started runs by workflow.
	runsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of workflow runs started",
		},
		[]string{"workflow"},
	)

	// runsCompletedTotal is a counter of completed runs by outcome.
	runsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of workflow runs completed",
		},
		[]string{"workflow", "outcome"}, // outcome: workflow-declared label, or "error"
	)

	// runDuration is a histogram of total run duration.
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Histogram of total workflow run duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow"},
	)

	// stepsTotal is a counter of executed steps by type and status.
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of workflow steps executed",
		},
		[]string{"type", "status"}, // type: agent, cli, workflow, transform
	)

	// stepDuration is a histogram of step execution duration by type.
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Histogram of step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// roundsTotal is a counter of rounds executed by workflow.
	roundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of workflow rounds executed",
		},
		[]string{"workflow"},
	)

	// allMetrics is the list of metrics for registration.
	allMetrics = []prometheus.Collector{
		runsActive,
		runsStartedTotal,
		runsCompletedTotal,
		runDuration,
		stepsTotal,
		stepDuration,
		roundsTotal,
	}
)

// Status constants for metric labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RecordRunStart records a run start.
func RecordRunStart(workflow string) {
	runsActive.Inc()
	runsStartedTotal.WithLabelValues(workflow).Inc()
}

// RecordRunEnd records a run completion with its outcome label.
func RecordRunEnd(workflow, outcome string, durationSeconds float64) {
	runsActive.Dec()
	runsCompletedTotal.WithLabelValues(workflow, outcome).Inc()
	runDuration.WithLabelValues(workflow).Observe(durationSeconds)
}

// RecordStep records a step execution.
func RecordStep(stepType, status string, durationSeconds float64) {
	stepsTotal.WithLabelValues(stepType, status).Inc()
	stepDuration.WithLabelValues(stepType).Observe(durationSeconds)
}

// RecordRound records a completed round.
func RecordRound(workflow string) {
	roundsTotal.WithLabelValues(workflow).Inc()
}
