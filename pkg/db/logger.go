package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	applog "licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/tenant"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// QueryLogger routes gorm logs through zap, tagged with the trace and the
// tenant of the calling request.
type QueryLogger struct {
	zap           *zap.Logger
	level         logger.LogLevel
	showSQL       bool
	slowThreshold time.Duration
}

var _ logger.Interface = (*QueryLogger)(nil)

func NewQueryLogger(z *zap.Logger, level logger.LogLevel, showSQL bool, slowThreshold time.Duration) *QueryLogger {
	return &QueryLogger{
		zap:           z,
		level:         level,
		showSQL:       showSQL,
		slowThreshold: slowThreshold,
	}
}

func (l *QueryLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *QueryLogger) with(ctx context.Context) *zap.Logger {
	log := l.zap.With(applog.TraceFields(ctx)...)
	if id, ok := tenant.FromContext(ctx); ok {
		log = log.With(zap.String("tenant_id", id))
	}
	return log
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.with(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.with(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.with(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace logs failed queries, slow queries, and in debug setups every query.
// Record-not-found is an expected outcome and never logged as an error.
func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold
	failed := err != nil && !errors.Is(err, logger.ErrRecordNotFound)

	if !failed && !slow && !(l.level == logger.Info && l.showSQL) {
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("file", utils.FileWithLineNum()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	}
	log := l.with(ctx)

	switch {
	case failed && l.level >= logger.Error:
		log.Error("gorm.query", append(fields, zap.Error(err))...)
	case slow && l.level >= logger.Warn:
		log.Warn("gorm.slow_query", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	case l.level == logger.Info && l.showSQL:
		log.Info("gorm.query", fields...)
	}
}
