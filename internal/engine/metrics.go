package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convergence",
			Subsystem: "engine",
			Name:      "job_runs_total",
			Help:      "Job runs by job name and outcome (ok, error, panic).",
		},
		[]string{"job", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "convergence",
			Subsystem: "engine",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one job run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)
)
