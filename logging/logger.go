// Package logging builds the application's zap logger: console plus a
// rotated JSON file, with sensitive-data redaction on every field, and an
// operation-aware façade for domain events.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelEnvVar overrides the level chosen by NewLogger.
const LevelEnvVar = "CREWMONITOR_LOG_LEVEL"

// Logger wraps zap.Logger and redacts sensitive data from every field.
//
// This organism composes:
//   - lumberjack file rotation (NewFileWriter)
//   - a console/file tee core (newTeeCore)
//   - the redaction rules in redact.go
//
// Example:
//
//	logger, err := NewLogger(true, "crewmonitor.log")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("server started", zap.String("port", "8080"))
type Logger struct {
	zap           *zap.Logger
	base          *zap.Logger
	level         zap.AtomicLevel
	isDevelopment bool
	logFilePath   string
}

// NewLogger creates a Logger for the given environment. Development mode
// logs at debug level with a colored console; production logs JSON at info
// level. CREWMONITOR_LOG_LEVEL overrides either. An empty logFilePath
// disables the file output.
func NewLogger(isDevelopment bool, logFilePath string) (*Logger, error) {
	return NewLoggerWithWriters(isDevelopment, logFilePath, stdout, DefaultRotationConfig())
}

// NewLoggerWithWriters is NewLogger with an explicit console writer and
// rotation settings.
func NewLoggerWithWriters(isDevelopment bool, logFilePath string, console zapcore.WriteSyncer, rotation RotationConfig) (*Logger, error) {
	defaultLevel := zapcore.InfoLevel
	if isDevelopment {
		defaultLevel = zapcore.DebugLevel
	}
	level := zap.NewAtomicLevelAt(ParseLevel(os.Getenv(LevelEnvVar), defaultLevel))

	var file zapcore.WriteSyncer
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		_ = f.Close()
		file = NewFileWriter(logFilePath, rotation)
	}
	if console == nil {
		console = stdout
	}

	base := zap.New(newTeeCore(level, console, file, isDevelopment), zap.AddCaller())
	return &Logger{
		zap:           base.WithOptions(zap.AddCallerSkip(1)),
		base:          base,
		level:         level,
		isDevelopment: isDevelopment,
		logFilePath:   logFilePath,
	}, nil
}

// FromZap wraps an existing zap logger, e.g. one from zaptest.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{
		zap:   z.WithOptions(zap.AddCallerSkip(1)),
		base:  z,
		level: zap.NewAtomicLevelAt(z.Level()),
	}
}

// ParseLevel parses a level name case-insensitively, returning def for
// empty or unknown input. "warning" is accepted as "warn".
// This is a pure function with no side effects.
func ParseLevel(name string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal", "critical":
		return zapcore.FatalLevel
	default:
		return def
	}
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Sync flushes buffered entries. Call it before exiting.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs at DebugLevel.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

// Info logs at InfoLevel.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

// Warn logs at WarnLevel.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

// Error logs at ErrorLevel.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

// Fatal logs at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.zap.Fatal(msg, redactFields(fields)...)
}

// With returns a child logger that adds fields to every entry.
//
// Example:
//
//	opLogger := logger.With(zap.String("operation_id", id))
func (l *Logger) With(fields ...zap.Field) *Logger {
	redacted := redactFields(fields)
	child := *l
	child.zap = l.zap.With(redacted...)
	child.base = l.base.With(redacted...)
	return &child
}

// Named returns a child logger with a sub-name, e.g. "webui" or "health".
func (l *Logger) Named(name string) *Logger {
	child := *l
	child.zap = l.zap.Named(name)
	child.base = l.base.Named(name)
	return &child
}

// Zap returns the underlying *zap.Logger for components that take one
// directly. Fields logged through it bypass redaction.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// IsDevelopment reports whether the logger was built in development mode.
func (l *Logger) IsDevelopment() bool {
	return l.isDevelopment
}

// LogFilePath returns the log file path, or "" when file output is off.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}

// redactFields filters sensitive data from fields before they are encoded.
func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zap.Field) zap.Field {
	if IsSensitiveField(f.Key) {
		return zap.String(f.Key, RedactedPlaceholder)
	}
	if f.Type == zapcore.StringType {
		if redacted := RedactSensitiveData(f.String); redacted != f.String {
			return zap.String(f.Key, redacted)
		}
	}
	return f
}
