package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(
		WithServiceName("test-service"),
		WithServiceVersion("1.2.3"),
		WithDetailedDBTracing(),
	)
	assert.Equal(t, "test-service", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.True(t, cfg.EnableDetailedDBTracing)
	assert.False(t, cfg.IsEnabled())
	assert.NotNil(t, cfg.Tracer())
	assert.NotNil(t, cfg.Metrics())
}

func TestConfigWithProviders(t *testing.T) {
	cfg := NewConfig(
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(noop.NewMeterProvider()),
	)
	assert.True(t, cfg.IsEnabled())
	assert.NotNil(t, cfg.Tracer())
	assert.NotNil(t, cfg.Metrics())
}

func TestNilConfigFallsBack(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsEnabled())
	assert.NotNil(t, cfg.Tracer())
	assert.NotNil(t, cfg.Metrics())
}

func TestNoopTracerSpans(t *testing.T) {
	tracer := NewNoopTracer()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		_, span := tracer.StartGetRecords(ctx, "req-1", "results", 1, 10)
		tracer.SetPage(span, 25, 10, 11)
		tracer.RecordError(span, errors.New("boom"))
		tracer.RecordError(span, nil)
		span.End()

		_, span = tracer.StartAdhocResolve(ctx, "urn:q", 2)
		span.End()
		_, span = tracer.StartGetRecordByID(ctx, []string{"a"})
		span.End()
		_, span = tracer.StartHarvest(ctx, "https://example.com")
		span.End()
		_, span = tracer.StartDBQuery(ctx, "SELECT")
		span.End()
	})
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoopMetrics()
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordRequest(ctx, OpGetRecords, "hits", time.Millisecond)
		m.RecordReturned(ctx, 10)
		m.RecordDBQuery(ctx, "SELECT", time.Millisecond)
		m.RecordHarvested(ctx, "src", 3)
		m.RecordError(ctx, OpGetRecords, "NoApplicableCode")
	})
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// No span in context: the logger is returned unchanged.
	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	LoggerWithTrace(ctx, logger).Info("hello")
	assert.Contains(t, buf.String(), LogFieldTraceID+"="+sc.TraceID().String())
	assert.Contains(t, buf.String(), LogFieldSpanID+"="+sc.SpanID().String())
}

func TestRegisterGORMCallbacks(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Disabled without a tracer provider.
	require.NoError(t, RegisterGORMCallbacks(db, NewConfig(WithDetailedDBTracing())))
	require.NoError(t, RegisterGORMCallbacks(db, nil))

	cfg := NewConfig(
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithDetailedDBTracing(),
	)
	require.NoError(t, RegisterGORMCallbacks(db, cfg))

	type row struct {
		ID   uint
		Name string
	}
	require.NoError(t, db.AutoMigrate(&row{}))
	require.NoError(t, db.Create(&row{Name: "a"}).Error)
	var got []row
	require.NoError(t, db.Find(&got).Error)
	assert.Len(t, got, 1)
}
