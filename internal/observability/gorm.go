package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	gormSpanKey      = "csw:gorm:span"
	gormStartTimeKey = "csw:gorm:start"
)

type gormHook struct {
	name      string
	operation string
	register  func(db *gorm.DB, before, after func(*gorm.DB)) error
}

var gormHooks = []gormHook{
	{"query", "SELECT", func(db *gorm.DB, before, after func(*gorm.DB)) error {
		if err := db.Callback().Query().Before("gorm:query").Register("csw:before_query", before); err != nil {
			return err
		}
		return db.Callback().Query().After("gorm:query").Register("csw:after_query", after)
	}},
	{"create", "INSERT", func(db *gorm.DB, before, after func(*gorm.DB)) error {
		if err := db.Callback().Create().Before("gorm:create").Register("csw:before_create", before); err != nil {
			return err
		}
		return db.Callback().Create().After("gorm:create").Register("csw:after_create", after)
	}},
	{"delete", "DELETE", func(db *gorm.DB, before, after func(*gorm.DB)) error {
		if err := db.Callback().Delete().Before("gorm:delete").Register("csw:before_delete", before); err != nil {
			return err
		}
		return db.Callback().Delete().After("gorm:delete").Register("csw:after_delete", after)
	}},
	{"row", "ROW", func(db *gorm.DB, before, after func(*gorm.DB)) error {
		if err := db.Callback().Row().Before("gorm:row").Register("csw:before_row", before); err != nil {
			return err
		}
		return db.Callback().Row().After("gorm:row").Register("csw:after_row", after)
	}},
}

// RegisterGORMCallbacks registers GORM callbacks for database query tracing.
// It is a no-op unless a tracer provider is set and detailed DB tracing is on.
func RegisterGORMCallbacks(db *gorm.DB, cfg *Config) error {
	if cfg == nil || cfg.TracerProvider == nil || !cfg.EnableDetailedDBTracing {
		return nil
	}
	tracer := cfg.Tracer()
	for _, h := range gormHooks {
		spanName := "db." + h.name
		operation := h.operation
		before := func(db *gorm.DB) { startSpan(db, tracer, spanName) }
		after := func(db *gorm.DB) { endSpan(db, tracer, cfg, operation) }
		if err := h.register(db, before, after); err != nil {
			return err
		}
	}
	return nil
}

func startSpan(db *gorm.DB, tracer *Tracer, spanName string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracer.StartSpan(ctx, spanName,
		attribute.String("db.system", db.Dialector.Name()),
	)

	db.Statement.Context = ctx
	db.InstanceSet(gormSpanKey, span)
	db.InstanceSet(gormStartTimeKey, time.Now())
}

func endSpan(db *gorm.DB, tracer *Tracer, cfg *Config, operation string) {
	spanVal, ok := db.InstanceGet(gormSpanKey)
	if !ok {
		return
	}
	span, ok := spanVal.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	if db.Statement != nil {
		if db.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
		}
		span.SetAttributes(attribute.Int64("db.rows_affected", db.RowsAffected))
	}

	if db.Error != nil {
		tracer.RecordError(span, db.Error)
	}

	if startTimeVal, ok := db.InstanceGet(gormStartTimeKey); ok {
		if startTime, ok := startTimeVal.(time.Time); ok {
			cfg.Metrics().RecordDBQuery(db.Statement.Context, operation, time.Since(startTime))
		}
	}
}
