package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-cubecomp/internal/ports"
)

var _ ports.RecalcObserver = (*OTelRecalcObserver)(nil)

const tracerName = "github.com/ahrav/go-cubecomp/scoring"

// OTelRecalcObserver traces leaderboard recalculations with OpenTelemetry
// and reports their latency, outcome and size to a MetricsCollector.
type OTelRecalcObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
	now     func() time.Time
}

// NewOTelRecalcObserver creates an observer using the global tracer
// provider. metrics may be nil.
func NewOTelRecalcObserver(metrics ports.MetricsCollector) *OTelRecalcObserver {
	return &OTelRecalcObserver{
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// Start opens a span for the recalculation described by scope. The returned
// function ends the span and records metrics; it must be called exactly once.
func (o *OTelRecalcObserver) Start(
	ctx context.Context,
	scope ports.RecalcScope,
) (context.Context, func(rows int, err error)) {
	ctx, span := o.tracer.Start(ctx, "Scoring.Recalculate",
		trace.WithAttributes(
			attribute.String("recalc.scope", scope.Kind()),
			attribute.Int64("recalc.competition_id", scope.CompetitionID),
		))
	if scope.DisciplineID != 0 {
		span.SetAttributes(attribute.Int64("recalc.discipline_id", scope.DisciplineID))
	}
	started := o.now()

	return ctx, func(rows int, err error) {
		defer span.End()

		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.AddEvent("recalc.rows_written", trace.WithAttributes(attribute.Int("rows", rows)))
			span.SetStatus(codes.Ok, "recalculation completed")
		}

		if o.metrics == nil {
			return
		}
		labels := map[string]string{"scope": scope.Kind(), "status": status}
		o.metrics.RecordLatency("recalculate", o.now().Sub(started), labels)
		o.metrics.RecordCounter(MetricRecalculations, 1, labels)
		if err == nil {
			o.metrics.RecordGauge(MetricLeaderboardRows, float64(rows), labels)
		}
	}
}
