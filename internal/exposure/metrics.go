package exposure

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

const instrumentationName = "github.com/GavinKingcome/schools-air-quality-msp4/internal/exposure"

// Metrics holds the engine's OpenTelemetry instruments.
type Metrics struct {
	assignments metric.Int64Counter
	skipped     metric.Int64Counter
	estimates   metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewMetrics creates the engine instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	assignments, err := meter.Int64Counter(
		"aq.assignments",
		metric.WithDescription("School assignments computed, by data source"),
		metric.WithUnit("{school}"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter(
		"aq.assignments.skipped",
		metric.WithDescription("Schools skipped by the resolver for missing coordinates"),
		metric.WithUnit("{school}"),
	)
	if err != nil {
		return nil, err
	}

	estimates, err := meter.Int64Counter(
		"aq.estimates",
		metric.WithDescription("Estimates produced, by method"),
		metric.WithUnit("{estimate}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"aq.assignment_run.duration",
		metric.WithDescription("Duration of assignment batch runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		assignments: assignments,
		skipped:     skipped,
		estimates:   estimates,
		runDuration: runDuration,
	}, nil
}

func (m *Metrics) recordRun(ctx context.Context, summary RunSummary) {
	if m == nil {
		return
	}
	dryRun := attribute.Bool("dry_run", summary.DryRun)
	for source, n := range summary.BySource {
		m.assignments.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("data_source", string(source)), dryRun,
		))
	}
	m.skipped.Add(ctx, int64(len(summary.Skipped)), metric.WithAttributes(dryRun))
	m.runDuration.Record(ctx, summary.Duration.Seconds(), metric.WithAttributes(dryRun))
}

func (m *Metrics) recordEstimate(ctx context.Context, method airquality.Method) {
	if m == nil {
		return
	}
	m.estimates.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(method))))
}
