package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity level of a log entry
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for general information
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
	// FATAL level for fatal errors that cause program exit
	FATAL
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown values yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is a leveled logger with printf-style methods on top of zap.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// Config holds the configuration for the logger
type Config struct {
	Level Level
	// Development switches to the human readable console encoder.
	Development  bool
	EnableCaller bool
}

// New creates a new logger with the given configuration
func New(config Config) (*Logger, error) {
	atom := zap.NewAtomicLevelAt(config.Level.zapLevel())

	var zc zap.Config
	if config.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = atom
	zc.DisableCaller = !config.EnableCaller

	z, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("building zap logger: %w", err)
	}
	return &Logger{sugar: z.Sugar(), level: atom}, nil
}

// NewDefault creates a logger with default configuration
func NewDefault() *Logger {
	l, err := New(Config{Level: INFO})
	if err != nil {
		// zap's production config only fails on bad output paths
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return NewNop()
	}
	return l
}

// FromZap wraps an existing zap logger, e.g. zaptest.NewLogger(t).
func FromZap(z *zap.Logger) *Logger {
	return &Logger{
		sugar: z.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

func (l *Logger) Debug(message string, args ...interface{}) {
	if len(args) == 0 {
		l.sugar.Debug(message)
		return
	}
	l.sugar.Debugf(message, args...)
}

func (l *Logger) Info(message string, args ...interface{}) {
	if len(args) == 0 {
		l.sugar.Info(message)
		return
	}
	l.sugar.Infof(message, args...)
}

func (l *Logger) Warn(message string, args ...interface{}) {
	if len(args) == 0 {
		l.sugar.Warn(message)
		return
	}
	l.sugar.Warnf(message, args...)
}

func (l *Logger) Error(message string, args ...interface{}) {
	if len(args) == 0 {
		l.sugar.Error(message)
		return
	}
	l.sugar.Errorf(message, args...)
}

// Fatal logs a fatal message and exits the program
func (l *Logger) Fatal(message string, args ...interface{}) {
	if len(args) == 0 {
		l.sugar.Fatal(message)
		return
	}
	l.sugar.Fatalf(message, args...)
}

// WithFields returns a child logger carrying the given structured fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &Logger{sugar: l.sugar.With(kv...), level: l.level}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewDefault()
)

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Error logs an error message using the default logger
func Error(message string, args ...interface{}) {
	Default().Error(message, args...)
}

