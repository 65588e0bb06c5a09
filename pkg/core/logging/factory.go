// ============================================================================
// mediaprep - media preprocessing service
// ============================================================================
//
// Package:     logging
// Description: Factory functions for creating named loggers
// License:     MIT
// ============================================================================

package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultsMu sync.RWMutex
	defaults   = LoggerConfig{Level: "info", Format: "json"}
)

// LoggerConfig holds configuration for creating loggers
type LoggerConfig struct {
	// Service name, used as the zap logger name
	ServiceName string

	// Log level (debug, info, warn, error)
	Level string

	// Output format: "json" or "text" (default: json)
	Format string

	// Output destination (default: stderr)
	Output io.Writer
}

// DefaultLoggerConfig returns the process-wide configuration for a service
func DefaultLoggerConfig(serviceName string) LoggerConfig {
	defaultsMu.RLock()
	cfg := defaults
	defaultsMu.RUnlock()

	cfg.ServiceName = serviceName
	return cfg
}

// Configure sets the level and format used by New for every logger created
// afterwards.
func Configure(level, format string) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()

	if level != "" {
		defaults.Level = level
	}
	if format != "" {
		defaults.Format = format
	}
}

// SetOutput redirects loggers created by New to w. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaults.Output = w
}

// NewLogger creates a logger from an explicit configuration
func NewLogger(cfg LoggerConfig) *Logger {
	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), ParseLevel(cfg.Level).zapLevel())
	return NewFromCore(cfg.ServiceName, core)
}

// NewFromCore wraps an existing zap core, mainly for tests that observe output
func NewFromCore(name string, core zapcore.Core) *Logger {
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if name != "" {
		z = z.Named(name)
	}
	return &Logger{sugar: z.Sugar(), name: name}
}

// New creates a named logger using the process-wide defaults
func New(name string) *Logger {
	return NewLogger(DefaultLoggerConfig(name))
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), name: "nop"}
}

// Logger is a named key/value logger
type Logger struct {
	sugar *zap.SugaredLogger
	name  string
}

// Name returns the logger name
func (l *Logger) Name() string {
	return l.name
}

// With returns a child logger that adds the key/value pairs to every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...), name: l.name}
}

// Debug logs a debug message with key/value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs an info message with key/value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs a warning message with key/value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs an error message with key/value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
