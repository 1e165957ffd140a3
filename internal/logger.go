package internal

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var (
	logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	loggerOnce sync.Once
	logger     *zap.Logger
)

// Logger returns the shared structured logger.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = logLevel
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}

// SetLogger replaces the shared logger. Tests use it with zaptest or zap.NewNop.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger().Sync()
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	switch level {
	case LogLevelError:
		logLevel.SetLevel(zapcore.ErrorLevel)
	case LogLevelWarn:
		logLevel.SetLevel(zapcore.WarnLevel)
	case LogLevelDebug:
		logLevel.SetLevel(zapcore.DebugLevel)
	default:
		logLevel.SetLevel(zapcore.InfoLevel)
	}
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LogLevelDebug)
	} else {
		SetLogLevel(LogLevelInfo)
	}
}

// CurrentLogLevel reports the active level.
func CurrentLogLevel() LogLevel {
	switch logLevel.Level() {
	case zapcore.ErrorLevel:
		return LogLevelError
	case zapcore.WarnLevel:
		return LogLevelWarn
	case zapcore.DebugLevel:
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	Logger().Sugar().Errorf(format, args...)
}

// LogWarn logs a warning message
func LogWarn(format string, args ...interface{}) {
	Logger().Sugar().Warnf(format, args...)
}

// LogInfo logs an info message
func LogInfo(format string, args ...interface{}) {
	Logger().Sugar().Infof(format, args...)
}

// LogDebug logs a debug message
func LogDebug(format string, args ...interface{}) {
	Logger().Sugar().Debugf(format, args...)
}
