package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

const slowQueryThreshold = 200 * time.Millisecond

// ZapGormLogger adapts a zap logger to gorm's logger.Interface so SQL
// traces land in the same structured stream as application logs.
type ZapGormLogger struct {
	log     *zap.Logger
	level   logger.LogLevel
	showSQL bool
}

func NewZapGormLogger(z *zap.Logger, level logger.LogLevel, showSQL bool) *ZapGormLogger {
	return &ZapGormLogger{log: z, level: level, showSQL: showSQL}
}

func (l *ZapGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *ZapGormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *ZapGormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *ZapGormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *ZapGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("file", utils.FileWithLineNum()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound):
		l.log.Error("gorm.query", append(fields, zap.Error(err))...)
	case elapsed > slowQueryThreshold:
		l.log.Warn("gorm.slow_query", fields...)
	case l.level >= logger.Info && l.showSQL:
		l.log.Info("gorm.query", fields...)
	}
}
