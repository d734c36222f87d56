package mailbox

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/shmbox/pkg/mailbox"

// Telemetry wraps endpoint operations in OpenTelemetry spans and counts them.
type Telemetry struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
}

// NewTelemetry builds Telemetry from a meter and a tracer. Nil arguments fall
// back to no-op implementations.
func NewTelemetry(meter metric.Meter, tracer trace.Tracer) (*Telemetry, error) {
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	ops, err := meter.Int64Counter("shmbox.endpoint.operations",
		metric.WithDescription("Endpoint operations by endpoint, operation and result."))
	if err != nil {
		return nil, err
	}
	return &Telemetry{tracer: tracer, ops: ops}, nil
}

func noopTelemetry() *Telemetry {
	t, _ := NewTelemetry(nil, nil)
	return t
}

func (t *Telemetry) start(ctx context.Context, endpoint, op string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "shmbox."+op, trace.WithAttributes(
		attribute.String("shmbox.endpoint", endpoint),
	))
}

func (t *Telemetry) end(ctx context.Context, span trace.Span, endpoint, op, result string, n int, err error) {
	span.SetAttributes(
		attribute.String("shmbox.result", result),
		attribute.Int("shmbox.bytes", n),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	span.End()
	t.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("op", op),
		attribute.String("result", result),
	))
}
