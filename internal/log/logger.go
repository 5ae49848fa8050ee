package log

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field.
type Field = zap.Field

// Logger provides structured logging
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger
	Sync() error
}

type loggerImpl struct {
	base *zap.Logger
}

// New creates a logger at the given level. pretty selects the colored
// console encoder instead of JSON.
func New(level string, pretty bool) Logger {
	var cfg zap.Config
	if pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	base, err := cfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		panic(err)
	}
	return Wrap(base)
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return Wrap(zap.NewNop())
}

// Wrap adapts an existing zap logger.
func Wrap(base *zap.Logger) Logger {
	return &loggerImpl{base: base}
}

func (l *loggerImpl) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *loggerImpl) Info(msg string, fields ...zap.Field)  { l.base.Info(msg, fields...) }
func (l *loggerImpl) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }
func (l *loggerImpl) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }

func (l *loggerImpl) With(fields ...zap.Field) Logger {
	return Wrap(l.base.With(fields...))
}

func (l *loggerImpl) Sync() error { return l.base.Sync() }

// ParseLevel parses a log level string
func ParseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "DEBUG", "debug":
		return zapcore.DebugLevel
	case "INFO", "info":
		return zapcore.InfoLevel
	case "WARN", "warn", "WARNING", "warning":
		return zapcore.WarnLevel
	case "ERROR", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Field constructors re-exported so callers don't import zap directly.
func String(key, val string) zap.Field                 { return zap.String(key, val) }
func Int(key string, val int) zap.Field                { return zap.Int(key, val) }
func Bool(key string, val bool) zap.Field              { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func Stringer(key string, val interface{ String() string }) zap.Field {
	return zap.Stringer(key, val)
}
func Error(err error) zap.Field { return zap.Error(err) }

// LogProbeResult logs a single probe outcome. Quiet failures are the
// expected noise while the link is down and only go to debug.
func LogProbeResult(l Logger, url string, ok bool, latency time.Duration, quiet bool, err error) {
	fields := []zap.Field{
		String("url", url),
		Bool("success", ok),
		Int("latency_ms", int(latency.Milliseconds())),
	}
	if err != nil {
		fields = append(fields, Error(err))
	}

	switch {
	case ok:
		l.Debug("probe result", fields...)
	case quiet:
		l.Debug("probe failed", fields...)
	default:
		l.Warn("probe failed", fields...)
	}
}

// LogConfigLoad logs a config load event
func LogConfigLoad(l Logger, success bool, path string, err error) {
	fields := []zap.Field{String("path", path)}
	if err != nil {
		fields = append(fields, Error(err))
	}

	if success {
		l.Info("config loaded", fields...)
	} else {
		l.Error("config load failed, using built-in defaults", fields...)
	}
}

// LogError logs a general error
func LogError(l Logger, component string, err error, fields ...zap.Field) {
	fields = append(fields, String("component", component))
	if err != nil {
		fields = append(fields, Error(err))
	}
	l.Error("error occurred", fields...)
}
