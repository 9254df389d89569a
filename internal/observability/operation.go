package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gezibash/blobsync"

// Operation times one transfer-level operation. It owns a span, carries
// the operation's attributes into its log lines and records the outcome
// in Metrics.
type Operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	name    string
	start   time.Time
	logger  *slog.Logger
}

// StartOperation starts a span named name and returns the operation with a
// context carrying the span. m must not be nil.
func StartOperation(ctx context.Context, m *Metrics, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))

	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("operation", name))
	for _, kv := range attrs {
		args = append(args, slog.Any(string(kv.Key), kv.Value.AsInterface()))
	}
	logger := slog.Default().With(args...)
	logger.DebugContext(ctx, "operation started")

	return &Operation{
		ctx:     ctx,
		span:    span,
		metrics: m,
		name:    name,
		start:   time.Now(),
		logger:  logger,
	}, ctx
}

// End closes the span and records the duration and outcome. A non-nil err
// marks the span and the metrics as failed.
func (o *Operation) End(err error) {
	elapsed := time.Since(o.start)
	status := "ok"
	if err != nil {
		status = "error"
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
		o.logger.WarnContext(o.ctx, "operation failed", "error", err, "duration", elapsed)
	} else {
		o.logger.InfoContext(o.ctx, "operation completed", "duration", elapsed)
	}
	o.span.End()

	o.metrics.OperationDuration.WithLabelValues(o.name, status).Observe(elapsed.Seconds())
	o.metrics.OperationTotal.WithLabelValues(o.name, status).Inc()
}
