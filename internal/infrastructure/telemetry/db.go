package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBConfig controls database spans and metrics.
type DBConfig struct {
	TracingEnabled     bool
	LogFullSQL         bool          // bound values in span statements; keep off in production
	SlowQueryThreshold time.Duration // default 200ms
	DBSystem           string        // default "postgresql"
}

// DefaultDBConfig returns tracing off with redacted statements.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		SlowQueryThreshold: 200 * time.Millisecond,
		DBSystem:           "postgresql",
	}
}

type dbStartKey struct{}

// DBPlugin is a GORM plugin that adds otelgorm spans, slow query marking
// and query/pool metrics. A nil meter disables the metrics half.
type DBPlugin struct {
	cfg     DBConfig
	metrics *dbMetrics
	logger  *zap.Logger
}

// NewDBPlugin builds the plugin. Register it with db.Use.
func NewDBPlugin(cfg DBConfig, meter metric.Meter, logger *zap.Logger) (*DBPlugin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}

	p := &DBPlugin{cfg: cfg, logger: logger}
	if meter != nil {
		m, err := newDBMetrics(meter)
		if err != nil {
			return nil, err
		}
		p.metrics = m
	}
	return p, nil
}

// Name implements gorm.Plugin.
func (p *DBPlugin) Name() string {
	return "servicebus:db_telemetry"
}

// Initialize implements gorm.Plugin.
func (p *DBPlugin) Initialize(db *gorm.DB) error {
	if p.cfg.TracingEnabled {
		opts := []otelgorm.Option{otelgorm.WithDBName(p.cfg.DBSystem)}
		if !p.cfg.LogFullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return fmt.Errorf("register otelgorm: %w", err)
		}
	}

	if err := p.registerCallbacks(db); err != nil {
		return fmt.Errorf("register db callbacks: %w", err)
	}

	if p.metrics != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := p.metrics.observePool(sqlDB.Stats); err != nil {
			return err
		}
	}

	p.logger.Info("Database telemetry enabled",
		zap.Bool("tracing", p.cfg.TracingEnabled),
		zap.Bool("metrics", p.metrics != nil),
		zap.Duration("slow_query_threshold", p.cfg.SlowQueryThreshold),
	)
	return nil
}

// registerCallbacks hooks every GORM processor. The after hooks run before
// otelgorm ends its span so attributes still land on it.
func (p *DBPlugin) registerCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("servicebus:before_create", p.before),
		cb.Query().Before("gorm:query").Register("servicebus:before_query", p.before),
		cb.Update().Before("gorm:update").Register("servicebus:before_update", p.before),
		cb.Delete().Before("gorm:delete").Register("servicebus:before_delete", p.before),
		cb.Row().Before("gorm:row").Register("servicebus:before_row", p.before),
		cb.Raw().Before("gorm:raw").Register("servicebus:before_raw", p.before),

		cb.Create().After("gorm:create").Before("otel:after_create").Register("servicebus:after_create", p.after("INSERT")),
		cb.Query().After("gorm:query").Before("otel:after_query").Register("servicebus:after_query", p.after("SELECT")),
		cb.Update().After("gorm:update").Before("otel:after_update").Register("servicebus:after_update", p.after("UPDATE")),
		cb.Delete().After("gorm:delete").Before("otel:after_delete").Register("servicebus:after_delete", p.after("DELETE")),
		cb.Row().After("gorm:row").Before("otel:after_row").Register("servicebus:after_row", p.after("")),
		cb.Raw().After("gorm:raw").Before("otel:after_raw").Register("servicebus:after_raw", p.after("")),
	)
}

func (p *DBPlugin) before(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, dbStartKey{}, time.Now())
}

// after returns the completion hook. An empty operation is read off the SQL.
func (p *DBPlugin) after(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		op := operation
		if op == "" {
			op = detectOperationType(db.Statement.SQL.String())
		}

		var elapsed time.Duration
		if start, ok := ctx.Value(dbStartKey{}).(time.Time); ok {
			elapsed = time.Since(start)
		}
		slow := elapsed > p.cfg.SlowQueryThreshold

		if p.metrics != nil {
			p.metrics.recordQuery(ctx, op, db.Statement.Table, elapsed, slow)
		}
		annotateSpan(trace.SpanFromContext(ctx), db, elapsed, slow, p.cfg.SlowQueryThreshold)
	}
}

func annotateSpan(span trace.Span, db *gorm.DB, elapsed time.Duration, slow bool, threshold time.Duration) {
	if !span.IsRecording() {
		return
	}
	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}
	if slow {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", threshold.Milliseconds()),
		))
	}
}

func detectOperationType(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	return "OTHER"
}
