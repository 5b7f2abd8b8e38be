package observability

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the observability configuration for the catalogue service.
type Config struct {
	// TracerProvider is the OpenTelemetry tracer provider.
	// If nil, tracing is disabled.
	TracerProvider trace.TracerProvider

	// MeterProvider is the OpenTelemetry meter provider.
	// If nil, metrics collection is disabled.
	MeterProvider metric.MeterProvider

	// ServiceName is used to identify this service in traces and metrics.
	ServiceName string

	// ServiceVersion is the version of this service.
	ServiceVersion string

	// EnableDetailedDBTracing enables tracing for individual database queries.
	EnableDetailedDBTracing bool

	tracer  *Tracer
	metrics *Metrics
}

// Option is a functional option for configuring observability.
type Option func(*Config)

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) {
		c.MeterProvider = mp
	}
}

// WithServiceName sets the service name for identification.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithServiceVersion sets the service version for identification.
func WithServiceVersion(version string) Option {
	return func(c *Config) {
		c.ServiceVersion = version
	}
}

// WithDetailedDBTracing enables detailed database query tracing.
func WithDetailedDBTracing() Option {
	return func(c *Config) {
		c.EnableDetailedDBTracing = true
	}
}

// NewConfig creates a new observability configuration with the given options.
// The returned config is already initialized.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		ServiceName: "csw-catalog",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.Initialize()
	return cfg
}

// Initialize sets up the tracer and metrics based on configuration.
// Call it again after changing providers.
func (c *Config) Initialize() {
	if c.TracerProvider != nil {
		c.tracer = NewTracer(c.TracerProvider, c.ServiceName)
	} else {
		c.tracer = NewNoopTracer()
	}

	if c.MeterProvider != nil {
		c.metrics = NewMetrics(c.MeterProvider)
	} else {
		c.metrics = NewNoopMetrics()
	}
}

// Tracer returns the configured tracer, or a no-op tracer if not configured.
func (c *Config) Tracer() *Tracer {
	if c == nil || c.tracer == nil {
		return NewNoopTracer()
	}
	return c.tracer
}

// Metrics returns the configured metrics, or a no-op metrics if not configured.
func (c *Config) Metrics() *Metrics {
	if c == nil || c.metrics == nil {
		return NewNoopMetrics()
	}
	return c.metrics
}

// IsEnabled returns true if any observability features are configured.
func (c *Config) IsEnabled() bool {
	return c != nil && (c.TracerProvider != nil || c.MeterProvider != nil)
}
