// Package logging provides structured leveled logging for the data
// acquisition core.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) toLogrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format selects the output encoding: "json" or "text" (default).
	Format string
	Output io.Writer
	// Sync forces synchronous writes; logrus is always synchronous so
	// this only documents intent for callers migrating from async
	// loggers, it does not change behavior.
	Sync bool
	// NoColor disables ANSI color codes in text output.
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Format: "text", Output: os.Stderr}
}

// Logger wraps a logrus entry with the key-value call shape the rest
// of this codebase uses.
type Logger struct {
	entry *logrus.Entry
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(output)
	l.SetLevel(config.Level.toLogrus())
	if config.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: config.NoColor})
	}
	return &Logger{entry: logrus.NewEntry(l)}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func fields(args []any) logrus.Fields {
	if len(args) == 0 {
		return nil
	}
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		f[key] = args[i+1]
	}
	return f
}

func (l *Logger) with(args []any) *Logger {
	f := fields(args)
	if f == nil {
		return l
	}
	return &Logger{entry: l.entry.WithFields(f)}
}

// WithDevice scopes subsequent log lines to a device ID.
func (l *Logger) WithDevice(deviceID string) *Logger {
	return &Logger{entry: l.entry.WithField("device_id", deviceID)}
}

// WithRun scopes subsequent log lines to a run UID.
func (l *Logger) WithRun(runUID string) *Logger {
	return &Logger{entry: l.entry.WithField("run_uid", runUID)}
}

// WithSink scopes subsequent log lines to a broadcast sink name.
func (l *Logger) WithSink(name string) *Logger {
	return &Logger{entry: l.entry.WithField("sink", name)}
}

// WithError attaches an error to subsequent log lines.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// WithStep scopes subsequent log lines to a plan step's sequence
// number and message kind.
func (l *Logger) WithStep(seq uint64, op string) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields{"seq": seq, "op": op})}
}

func (l *Logger) Debug(msg string, args ...any) { l.with(args).entry.Debug(msg) }
func (l *Logger) Info(msg string, args ...any)  { l.with(args).entry.Info(msg) }
func (l *Logger) Warn(msg string, args ...any)  { l.with(args).entry.Warn(msg) }
func (l *Logger) Error(msg string, args ...any) { l.with(args).entry.Error(msg) }

// Printf-style logging.
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// Printf for compatibility with generic printf-style logger interfaces.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
