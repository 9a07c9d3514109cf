package logger

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 定义日志接口
type Logger interface {
	// Debug 记录调试信息
	Debug(msg string, fields ...any)

	// Info 记录一般信息
	Info(msg string, fields ...any)

	// Warn 记录警告信息
	Warn(msg string, fields ...any)

	// Error 记录错误信息
	Error(msg string, fields ...any)

	// Err 记录带 error 的错误信息
	Err(err error, msg string, fields ...any)

	// With 返回附带固定字段的子日志器
	With(fields ...any) Logger
}

// Options 日志初始化选项
type Options struct {
	Level    string   // debug / info / warn / error
	Writers  []string // console / file
	Filename string   // 文件日志路径，空表示使用平台默认目录
}

// ZeroLogger 基于 zerolog 的日志实现
type ZeroLogger struct {
	logger zerolog.Logger
}

// New 根据选项创建日志组件，未配置任何输出时返回空日志器
func New(opts Options) Logger {
	logLevel := zerolog.DebugLevel
	switch opts.Level {
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	}

	writers := make([]io.Writer, 0, len(opts.Writers))
	for _, writer := range opts.Writers {
		switch writer {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		case "file":
			filename := opts.Filename
			if filename == "" {
				var err error
				if filename, err = DefaultPath(); err != nil {
					continue
				}
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   filename,
				MaxSize:    1,
				MaxAge:     30,
				MaxBackups: 3,
				LocalTime:  true,
				Compress:   false,
			})
		}
	}

	if len(writers) == 0 {
		return NewNop()
	}

	zerolog.TimeFieldFormat = "2006-01-02 15:04:05"
	l := zerolog.New(io.MultiWriter(writers...)).
		With().
		Caller().
		Timestamp().
		Logger().
		Level(logLevel)

	return &ZeroLogger{logger: l}
}

// NewNop 创建一个不输出任何内容的日志器
func NewNop() Logger { return &ZeroLogger{logger: zerolog.Nop()} }

// Debug 记录调试信息
func (z *ZeroLogger) Debug(msg string, fields ...any) {
	z.logger.Debug().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Info 记录信息
func (z *ZeroLogger) Info(msg string, fields ...any) {
	z.logger.Info().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Warn 记录警告
func (z *ZeroLogger) Warn(msg string, fields ...any) {
	z.logger.Warn().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Error 记录错误
func (z *ZeroLogger) Error(msg string, fields ...any) {
	z.logger.Error().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Err 记录错误信息
func (z *ZeroLogger) Err(err error, msg string, fields ...any) {
	z.logger.Err(err).CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// With 返回附带字段的子日志器
func (z *ZeroLogger) With(fields ...any) Logger {
	return &ZeroLogger{logger: z.logger.With().Fields(fields).Logger()}
}

// DefaultPath 获取平台相关的默认日志文件路径
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "tabkeeper.log"), nil
}

// DataDir 获取应用数据目录
func DataDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(home, "Library", "Application Support")
	default:
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(home, ".local", "share")
		}
	}

	return filepath.Join(baseDir, "tabkeeper"), nil
}
