package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with catalogue-specific span creation methods.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// NewTracer creates a new Tracer using the given TracerProvider.
func NewTracer(tp trace.TracerProvider, serviceName string) *Tracer {
	return &Tracer{
		tracer:      tp.Tracer(TracerName),
		serviceName: serviceName,
	}
}

// StartSpan starts a new span with the given name and attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartGetRecords starts a span for a GetRecords request.
func (t *Tracer) StartGetRecords(ctx context.Context, requestID, resultType string, start, maxRecords int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "csw.getrecords", trace.WithAttributes(
		OperationAttr(OpGetRecords),
		RequestIDAttr(requestID),
		attribute.String(AttrResultType, resultType),
		attribute.Int(AttrStartPosition, start),
		attribute.Int(AttrMaxRecords, maxRecords),
	))
}

// StartGetRecordByID starts a span for a GetRecordById request.
func (t *Tracer) StartGetRecordByID(ctx context.Context, ids []string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "csw.getrecordbyid", trace.WithAttributes(
		OperationAttr(OpGetRecordByID),
		attribute.StringSlice("csw.ids", ids),
	))
}

// StartAdhocResolve starts a span for resolving a stored ad-hoc query.
func (t *Tracer) StartAdhocResolve(ctx context.Context, queryID string, slotCount int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "csw.adhoc.resolve", trace.WithAttributes(
		OperationAttr(OpResolveAdhoc),
		QueryIDAttr(queryID),
		attribute.Int(AttrSlotCount, slotCount),
	))
}

// StartHarvest starts a span for a harvest run.
func (t *Tracer) StartHarvest(ctx context.Context, source string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "csw.harvest", trace.WithAttributes(
		OperationAttr(OpHarvest),
		attribute.String("csw.harvest.source", source),
	))
}

// StartDBQuery starts a span for a database query.
func (t *Tracer) StartDBQuery(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "db.query", trace.WithAttributes(
		attribute.String("db.operation", operation),
	))
}

// SetPage records the computed page numbers on the span.
func (t *Tracer) SetPage(span trace.Span, matched, returned, next int) {
	span.SetAttributes(
		attribute.Int(AttrMatched, matched),
		attribute.Int(AttrReturned, returned),
		attribute.Int(AttrNextRecord, next),
	)
}

// RecordError records an error on the span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// LoggerWithTrace returns a logger enriched with trace context.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}
	return logger.With(
		slog.String(LogFieldTraceID, span.SpanContext().TraceID().String()),
		slog.String(LogFieldSpanID, span.SpanContext().SpanID().String()),
	)
}
