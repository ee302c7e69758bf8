package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowThreshold is the query duration above which a warning is logged
const DefaultSlowThreshold = 200 * time.Millisecond

// GormConfig controls what the GORM logger emits
type GormConfig struct {
	// Level is a log level name, mapped with MapGormLogLevel
	Level string
	// SlowThreshold defaults to DefaultSlowThreshold; negative disables slow query warnings
	SlowThreshold time.Duration
	// FullSQL keeps bound values. Otherwise statements are cut at WHERE.
	FullSQL bool
	// LogRecordNotFound logs gorm.ErrRecordNotFound as an error
	LogRecordNotFound bool
}

// GormLogger routes GORM output through zap, tagging entries with the
// correlation ID and trace of the lookup that issued the query
type GormLogger struct {
	logger *zap.Logger
	level  gormlogger.LogLevel
	cfg    GormConfig
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger creates a GORM logger backed by zap
func NewGormLogger(zapLogger *zap.Logger, cfg GormConfig) *GormLogger {
	if cfg.SlowThreshold == 0 {
		cfg.SlowThreshold = DefaultSlowThreshold
	}
	return &GormLogger{
		logger: zapLogger.Named("gorm"),
		level:  MapGormLogLevel(cfg.Level),
		cfg:    cfg,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) printf(ctx context.Context, threshold gormlogger.LogLevel, lvl zapcore.Level, msg string, data []any) {
	if l.level < threshold {
		return
	}
	l.forContext(ctx).Log(lvl, fmt.Sprintf(msg, data...))
}

// Trace logs an executed statement: failures at error, slow statements at
// warn and everything else at debug when the level is info
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil && !(errors.Is(err, gormlogger.ErrRecordNotFound) && !l.cfg.LogRecordNotFound)
	slow := l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold

	var (
		lvl zapcore.Level
		msg string
	)
	switch {
	case failed && l.level >= gormlogger.Error:
		lvl, msg = zapcore.ErrorLevel, "SQL Error"
	case err == nil && slow && l.level >= gormlogger.Warn:
		lvl, msg = zapcore.WarnLevel, fmt.Sprintf("SLOW SQL >= %v", l.cfg.SlowThreshold)
	case err == nil && l.level >= gormlogger.Info:
		lvl, msg = zapcore.DebugLevel, "SQL Query"
	default:
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", l.statement(sql)),
	}
	if failed {
		fields = append(fields, zap.Error(err))
	}
	l.forContext(ctx).Log(lvl, msg, fields...)
}

func (l *GormLogger) forContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.logger
	}
	log := l.logger
	if id := GetCorrelationID(ctx); id != "" {
		log = log.With(zap.String("correlation_id", id))
	}
	return WithTraceContext(ctx, log)
}

func (l *GormLogger) statement(sql string) string {
	if l.cfg.FullSQL {
		return sql
	}
	if i := strings.Index(strings.ToUpper(sql), " WHERE "); i >= 0 {
		return sql[:i] + " WHERE ?"
	}
	return sql
}

// MapGormLogLevel maps a log level name to a GORM log level. Debug and info
// both log every statement; unknown names are warn.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
