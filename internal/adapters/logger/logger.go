package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
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
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
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

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseFormat converts a string to Format, defaulting to console.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, string(FormatJSON)) {
		return FormatJSON
	}
	return FormatConsole
}

// Logger implements ports.Logger on top of zerolog.
type Logger struct {
	zl zerolog.Logger
}

// Options configures New.
type Options struct {
	Level  LogLevel
	Format Format
	Out    io.Writer // defaults to os.Stderr
}

// New creates a zerolog-backed logger.
func New(opts Options) *Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.StampMicro}
	}
	zl := zerolog.New(out).Level(opts.Level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger with a fixed component field.
func (l *Logger) With(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

func (l *Logger) emit(e *zerolog.Event, msg string, fields ...map[string]interface{}) {
	if len(fields) > 0 && fields[0] != nil {
		e = e.Fields(fields[0])
	}
	e.Msg(msg)
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Debug(), msg, fields...)
}

// Info logs a message at Info level.
func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Info(), msg, fields...)
}

// Warn logs a message at Warning level.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Warn(), msg, fields...)
}

// Error logs an error message at Error level.
func (l *Logger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Error().Err(err), msg, fields...)
}
