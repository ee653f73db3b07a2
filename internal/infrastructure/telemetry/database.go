package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQuery = 200 * time.Millisecond

// DBConfig selects the database instrumentation to install.
type DBConfig struct {
	Tracing       bool
	Metrics       bool
	System        string
	LogFullSQL    bool
	SlowThreshold time.Duration
}

// InstrumentDatabase installs otelgorm spans, slow query annotations,
// query metrics and connection pool gauges on db as configured.
func InstrumentDatabase(db *gorm.DB, cfg DBConfig, meters *MeterProvider, logger *zap.Logger) error {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = defaultSlowQuery
	}
	if cfg.System == "" {
		cfg.System = "postgresql"
	}
	in := &dbInstrumentation{config: cfg}

	if cfg.Tracing {
		opts := []otelgorm.Option{otelgorm.WithDBName(cfg.System)}
		if !cfg.LogFullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return err
		}
	}
	if cfg.Metrics && meters.IsEnabled() {
		if err := in.registerMetrics(db, meters.Meter("db.client")); err != nil {
			return err
		}
	}
	if !cfg.Tracing && in.queries == nil {
		logger.Debug("Database instrumentation disabled")
		return nil
	}
	if err := db.Use(in); err != nil {
		return err
	}

	logger.Info("Database instrumentation installed",
		zap.Bool("tracing", cfg.Tracing),
		zap.Bool("metrics", in.queries != nil),
		zap.Duration("slow_query_threshold", cfg.SlowThreshold),
	)
	return nil
}

type dbInstrumentation struct {
	config DBConfig

	queries  *Counter
	duration *Histogram
	slow     *Counter
}

func (in *dbInstrumentation) registerMetrics(db *gorm.DB, meter metric.Meter) error {
	var err error
	if in.queries, err = NewCounter(meter, "db_query_total", "Database queries by operation", "{query}"); err != nil {
		return err
	}
	if in.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return err
	}
	if in.slow, err = NewCounter(meter, "db_slow_query_total", "Queries slower than the configured threshold", "{query}"); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	conns, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Connections in the pool by state"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return err
	}
	maxConns, err := meter.Int64ObservableGauge("db_pool_connections_max",
		metric.WithDescription("Maximum open connections"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := sqlDB.Stats()
		o.ObserveInt64(maxConns, int64(stats.MaxOpenConnections))
		o.ObserveInt64(conns, int64(stats.Idle), metric.WithAttributes(AttrDBState.String("idle")))
		o.ObserveInt64(conns, int64(stats.InUse), metric.WithAttributes(AttrDBState.String("in_use")))
		o.ObserveInt64(conns, int64(stats.OpenConnections), metric.WithAttributes(AttrDBState.String("open")))
		return nil
	}, conns, maxConns)
	return err
}

func (in *dbInstrumentation) Name() string {
	return "admin:telemetry"
}

type gormRegister interface {
	Register(name string, fn func(*gorm.DB)) error
}

// Initialize hooks around every statement kind. The after hooks run ahead of
// otelgorm's so its span is still recording.
func (in *dbInstrumentation) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		name     string
		register gormRegister
		fn       func(*gorm.DB)
	}{
		{"before_create", cb.Create().Before("gorm:create"), in.before},
		{"after_create", cb.Create().After("gorm:create").Before("otel:after:create"), in.after},
		{"before_query", cb.Query().Before("gorm:query"), in.before},
		{"after_query", cb.Query().After("gorm:query").Before("otel:after:select"), in.after},
		{"before_update", cb.Update().Before("gorm:update"), in.before},
		{"after_update", cb.Update().After("gorm:update").Before("otel:after:update"), in.after},
		{"before_delete", cb.Delete().Before("gorm:delete"), in.before},
		{"after_delete", cb.Delete().After("gorm:delete").Before("otel:after:delete"), in.after},
		{"before_row", cb.Row().Before("gorm:row"), in.before},
		{"after_row", cb.Row().After("gorm:row").Before("otel:after:row"), in.after},
		{"before_raw", cb.Raw().Before("gorm:raw"), in.before},
		{"after_raw", cb.Raw().After("gorm:raw").Before("otel:after:raw"), in.after},
	}
	var err error
	for _, h := range hooks {
		err = multierr.Append(err, h.register.Register(in.Name()+":"+h.name, h.fn))
	}
	return err
}

type queryStartKey struct{}

func (in *dbInstrumentation) before(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (in *dbInstrumentation) after(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	var elapsed time.Duration
	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}
	table := db.Statement.Table
	if table == "" {
		table = "unknown"
	}
	slow := elapsed > in.config.SlowThreshold

	if in.queries != nil {
		op := AttrDBOperation.String(operationOf(db.Statement.SQL.String()))
		in.queries.Inc(ctx, op)
		in.duration.RecordDuration(ctx, elapsed, op)
		if slow {
			in.slow.Inc(ctx, AttrDBTable.String(table))
		}
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("db.sql.table", table),
		attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
	)
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		RecordError(span, db.Error)
	}
	if slow {
		span.SetAttributes(attribute.Bool("db.slow_query", true))
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", in.config.SlowThreshold.Milliseconds()),
		))
	}
}

// operationOf names the statement kind from its leading SQL keyword.
func operationOf(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \n\t("); i > 0 {
		sql = sql[:i]
	}
	switch op := strings.ToUpper(sql); op {
	case "SELECT", "INSERT", "UPDATE", "DELETE":
		return op
	default:
		return "OTHER"
	}
}
