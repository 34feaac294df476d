package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"cryptoDataPipe/internal/ports"
)

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo // Default to Info
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ZerologLogger implements the ports.Logger interface on top of zerolog.
type ZerologLogger struct {
	zl zerolog.Logger
}

var _ ports.Logger = (*ZerologLogger)(nil)

// NewZerologLogger creates a JSON logger writing to os.Stdout.
func NewZerologLogger(level LogLevel) *ZerologLogger {
	return NewZerologLoggerTo(os.Stdout, level)
}

// NewZerologLoggerTo creates a JSON logger writing to w.
func NewZerologLoggerTo(w io.Writer, level LogLevel) *ZerologLogger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(level.zerolog())
	return &ZerologLogger{zl: zl}
}

// Level returns the configured threshold.
func (l *ZerologLogger) Level() zerolog.Level {
	return l.zl.GetLevel()
}

func (l *ZerologLogger) write(ctx context.Context, ev *zerolog.Event, msg string, fields ...map[string]interface{}) {
	if ev == nil {
		return // level disabled
	}
	if id := ports.CorrelationID(ctx); id != "" {
		ev = ev.Str("cycle_id", id)
	}
	for _, f := range fields {
		if f != nil {
			ev = ev.Fields(f)
		}
	}
	ev.Msg(msg)
}

// Debug logs a message at Debug level.
func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, l.zl.Debug(), msg, fields...)
}

// Info logs a message at Info level.
func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, l.zl.Info(), msg, fields...)
}

// Warn logs a message at Warning level.
func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, l.zl.Warn(), msg, fields...)
}

// Error logs an error message at Error level.
func (l *ZerologLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.write(ctx, l.zl.Error().Err(err), msg, fields...)
}
