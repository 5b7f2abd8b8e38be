package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the catalogue metric instruments.
type Metrics struct {
	requestDuration metric.Float64Histogram
	requestCount    metric.Int64Counter
	returnedCount   metric.Int64Histogram
	dbQueryDuration metric.Float64Histogram
	harvestedCount  metric.Int64Counter
	errorCount      metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given MeterProvider.
// Instrument creation errors fall back to an unadorned instrument of the same name.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	m := &Metrics{}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"csw.request.duration",
		metric.WithDescription("Duration of catalogue requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.requestDuration, _ = meter.Float64Histogram("csw.request.duration")
	}

	m.requestCount, err = meter.Int64Counter(
		"csw.request.count",
		metric.WithDescription("Total number of catalogue requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.requestCount, _ = meter.Int64Counter("csw.request.count")
	}

	m.returnedCount, err = meter.Int64Histogram(
		"csw.records.returned",
		metric.WithDescription("Number of records returned per GetRecords page"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		m.returnedCount, _ = meter.Int64Histogram("csw.records.returned")
	}

	m.dbQueryDuration, err = meter.Float64Histogram(
		"csw.db.query.duration",
		metric.WithDescription("Duration of database queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.dbQueryDuration, _ = meter.Float64Histogram("csw.db.query.duration")
	}

	m.harvestedCount, err = meter.Int64Counter(
		"csw.harvest.records",
		metric.WithDescription("Total number of harvested records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		m.harvestedCount, _ = meter.Int64Counter("csw.harvest.records")
	}

	m.errorCount, err = meter.Int64Counter(
		"csw.error.count",
		metric.WithDescription("Total number of catalogue exceptions"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.errorCount, _ = meter.Int64Counter("csw.error.count")
	}

	return m
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(ctx context.Context, operation, resultType string, duration time.Duration) {
	attrs := metric.WithAttributes(
		OperationAttr(operation),
		attribute.String(AttrResultType, resultType),
	)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCount.Add(ctx, 1, attrs)
}

// RecordReturned records how many records a page carried.
func (m *Metrics) RecordReturned(ctx context.Context, count int) {
	m.returnedCount.Record(ctx, int64(count))
}

// RecordDBQuery records metrics for a database query.
func (m *Metrics) RecordDBQuery(ctx context.Context, operation string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("db.operation", operation))
	m.dbQueryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordHarvested records records written by a harvest run.
func (m *Metrics) RecordHarvested(ctx context.Context, source string, count int) {
	m.harvestedCount.Add(ctx, int64(count), metric.WithAttributes(attribute.String("csw.harvest.source", source)))
}

// RecordError records an exception occurrence.
func (m *Metrics) RecordError(ctx context.Context, operation, code string) {
	attrs := metric.WithAttributes(
		OperationAttr(operation),
		ErrorCodeAttr(code),
	)
	m.errorCount.Add(ctx, 1, attrs)
}
