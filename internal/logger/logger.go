// Package logger 提供基于 zerolog 的结构化日志组件
package logger

import (
	"io"
	"os"
	"path/filepath"

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

	// Err 记录带错误对象的错误信息
	Err(err error, msg string, fields ...any)

	// With 附加固定字段并返回新的 Logger
	With(fields ...any) Logger
}

// Options 日志配置选项
type Options struct {
	// Level 日志级别: debug / info / warn / error / disabled
	Level string
	// Writers 输出目标: console / file
	Writers []string
	// FilePath 文件输出路径，为空时使用默认路径
	FilePath string
}

// ZeroLogger 日志组件
type ZeroLogger struct {
	logger zerolog.Logger
}

// New 创建日志组件
func New(opts Options) *ZeroLogger {
	level := zerolog.DebugLevel
	switch opts.Level {
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "disabled":
		return Nop()
	}

	writers := make([]io.Writer, 0)
	for _, w := range opts.Writers {
		switch w {
		case "console":
			writers = append(writers, os.Stderr)
		case "file":
			filename := opts.FilePath
			if filename == "" {
				filename = defaultLogPath()
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   filename,
				MaxSize:    10,
				MaxAge:     30,
				MaxBackups: 3,
				LocalTime:  true,
				Compress:   false,
			})
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	zerolog.TimeFieldFormat = "2006-01-02 15:04:05"
	l := zerolog.New(io.MultiWriter(writers...)).
		With().
		Timestamp().
		Logger().
		Level(level)

	return &ZeroLogger{logger: l}
}

// Nop 创建一个空的日志记录器
func Nop() *ZeroLogger { return &ZeroLogger{logger: zerolog.Nop()} }

// Debug 记录调试信息
func (z *ZeroLogger) Debug(msg string, fields ...any) {
	z.logger.Debug().Fields(normalize(fields)).Msg(msg)
}

// Info 记录一般信息
func (z *ZeroLogger) Info(msg string, fields ...any) {
	z.logger.Info().Fields(normalize(fields)).Msg(msg)
}

// Warn 记录警告信息
func (z *ZeroLogger) Warn(msg string, fields ...any) {
	z.logger.Warn().Fields(normalize(fields)).Msg(msg)
}

// Error 记录错误信息
func (z *ZeroLogger) Error(msg string, fields ...any) {
	z.logger.Error().Fields(normalize(fields)).Msg(msg)
}

// Err 记录带错误对象的错误信息
func (z *ZeroLogger) Err(err error, msg string, fields ...any) {
	z.logger.Err(err).Fields(normalize(fields)).Msg(msg)
}

// With 附加固定字段
func (z *ZeroLogger) With(fields ...any) Logger {
	return &ZeroLogger{logger: z.logger.With().Fields(normalize(fields)).Logger()}
}

// normalize 奇数个字段时补齐占位值，避免 zerolog 丢弃
func normalize(fields []any) []any {
	if len(fields)%2 != 0 {
		fields = append(fields, "MISSING")
	}
	return fields
}

// defaultLogPath 获取平台相关的默认日志文件路径
func defaultLogPath() string {
	baseDir := os.Getenv("XDG_DATA_HOME")
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "cybear", "logs", "agent.log")
		}
		baseDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(baseDir, "cybear", "logs", "agent.log")
}
