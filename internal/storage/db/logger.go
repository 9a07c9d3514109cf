package db

import (
	"context"
	"errors"
	"time"

	"tabkeeper/internal/logger"

	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

// Logger 将 GORM 日志接入项目统一日志
type Logger struct {
	log           logger.Logger
	LogLevel      glog.LogLevel
	SlowThreshold time.Duration
}

// NewLogger 创建 GORM 日志适配器，默认只输出警告及以上
func NewLogger(l logger.Logger) *Logger {
	if l == nil {
		l = logger.NewNop()
	}
	return &Logger{
		log:           l.With("component", "sqlite"),
		LogLevel:      glog.Warn,
		SlowThreshold: 500 * time.Millisecond,
	}
}

// LogMode 实现 logger.Interface 接口
func (l *Logger) LogMode(level glog.LogLevel) glog.Interface {
	nl := *l
	nl.LogLevel = level
	return &nl
}

// Info 打印 info 级别日志
func (l *Logger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Info {
		l.log.Info(msg, "data", data)
	}
}

// Warn 打印 warn 级别日志
func (l *Logger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Warn {
		l.log.Warn(msg, "data", data)
	}
}

// Error 打印 error 级别日志
func (l *Logger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Error {
		l.log.Error(msg, "data", data)
	}
}

// Trace 打印 SQL 执行详情，记录不存在不视为错误
func (l *Logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= glog.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= glog.Error:
		sql, rows := fc()
		l.log.Err(err, "SQL执行错误", "sql", sql, "rows", rows, "timeMs", elapsed.Milliseconds())
	case elapsed > l.SlowThreshold && l.LogLevel >= glog.Warn:
		sql, rows := fc()
		l.log.Warn("慢SQL查询", "sql", sql, "rows", rows, "timeMs", elapsed.Milliseconds())
	case l.LogLevel == glog.Info:
		sql, rows := fc()
		l.log.Debug("SQL执行", "sql", sql, "rows", rows, "timeMs", elapsed.Milliseconds())
	}
}
