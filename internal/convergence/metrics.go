package convergence

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("convergence.detector")

var (
	signalsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convergence",
			Subsystem: "scan",
			Name:      "signals_read_total",
			Help:      "Signals read from agent sources, before deduplication.",
		},
		[]string{"agent"},
	)

	sourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convergence",
			Subsystem: "scan",
			Name:      "source_failures_total",
			Help:      "Agent source queries that failed or timed out.",
		},
		[]string{"agent"},
	)

	catchUpSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convergence",
			Subsystem: "scan",
			Name:      "catch_up_skipped_windows_total",
			Help:      "Closed windows skipped because they were beyond the catch-up limit.",
		},
	)

	resultsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convergence",
			Subsystem: "record",
			Name:      "results_total",
			Help:      "Record outcomes: new, duplicate, error.",
		},
		[]string{"outcome"},
	)

	publishOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convergence",
			Subsystem: "publish",
			Name:      "results_total",
			Help:      "Convergence publish outcomes: published, existing, error.",
		},
		[]string{"outcome"},
	)

	boostLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convergence",
			Subsystem: "boost",
			Name:      "lookups_total",
			Help:      "Boost lookups by agent and whether a boost was granted.",
		},
		[]string{"agent", "granted"},
	)
)

// startTickSpan creates a span for one detector tick.
func startTickSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Detector.Tick",
		trace.WithAttributes(
			attribute.String("convergence.run_id", runID),
		),
	)
}

// setTickSpanResult sets the result attributes on a tick span.
func setTickSpanResult(span trace.Span, rep TickReport) {
	span.SetAttributes(
		attribute.Int("convergence.windows", len(rep.Windows)),
		attribute.Int("convergence.overlaps", rep.Overlaps),
		attribute.Int("convergence.recorded", len(rep.Recorded)),
		attribute.Int("convergence.duplicates", rep.Duplicates),
		attribute.Int("convergence.degraded", len(rep.Degraded)),
	)
}
