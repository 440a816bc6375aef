package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Logger provides leveled logging for servers, pools and handlers.
// core.Logger satisfies concurrency.Logger, so one logger can be injected
// everywhere.
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that attaches fields to every entry
	WithFields(fields map[string]interface{}) Logger
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to slog levels.
// Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// defaultLogger writes "[LEVEL] message key=value" lines through the standard
// log package.
type defaultLogger struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
	minLevel    slog.Level
	suffix      string
}

// NewDefaultLogger creates a text logger on stdout/stderr that logs everything
func NewDefaultLogger() Logger {
	return NewTextLogger(os.Stdout, os.Stderr, slog.LevelDebug)
}

// NewTextLogger creates a text logger; errors and warnings go to errOut
func NewTextLogger(out, errOut io.Writer, minLevel slog.Level) Logger {
	return &defaultLogger{
		errorLogger: log.New(errOut, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(errOut, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(out, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(out, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
		minLevel:    minLevel,
	}
}

func (l *defaultLogger) output(logger *log.Logger, level slog.Level, msg string) {
	if level < l.minLevel {
		return
	}
	logger.Output(3, msg+l.suffix)
}

// Error logs an error message
func (l *defaultLogger) Error(args ...interface{}) {
	l.output(l.errorLogger, slog.LevelError, fmt.Sprint(args...))
}

// Errorf logs a formatted error message
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.output(l.errorLogger, slog.LevelError, fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *defaultLogger) Warn(args ...interface{}) {
	l.output(l.warnLogger, slog.LevelWarn, fmt.Sprint(args...))
}

// Warnf logs a formatted warning message
func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.output(l.warnLogger, slog.LevelWarn, fmt.Sprintf(format, args...))
}

// Info logs an informational message
func (l *defaultLogger) Info(args ...interface{}) {
	l.output(l.infoLogger, slog.LevelInfo, fmt.Sprint(args...))
}

// Infof logs a formatted informational message
func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.output(l.infoLogger, slog.LevelInfo, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *defaultLogger) Debug(args ...interface{}) {
	l.output(l.debugLogger, slog.LevelDebug, fmt.Sprint(args...))
}

// Debugf logs a formatted debug message
func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.output(l.debugLogger, slog.LevelDebug, fmt.Sprintf(format, args...))
}

// WithFields appends sorted key=value pairs to every line
func (l *defaultLogger) WithFields(fields map[string]interface{}) Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(l.suffix)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}

	clone := *l
	clone.suffix = b.String()
	return &clone
}

// jsonLogger adapts slog's JSON handler to Logger
type jsonLogger struct {
	logger *slog.Logger
}

// NewJSONLogger creates a JSON logger on stdout at info level
func NewJSONLogger() Logger {
	return NewJSONLoggerWithWriter(os.Stdout, slog.LevelInfo)
}

// NewJSONLoggerWithWriter creates a JSON logger writing to w
func NewJSONLoggerWithWriter(w io.Writer, minLevel slog.Level) Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: minLevel})
	return &jsonLogger{logger: slog.New(handler)}
}

func (l *jsonLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *jsonLogger) Error(args ...interface{}) { l.log(slog.LevelError, fmt.Sprint(args...)) }
func (l *jsonLogger) Errorf(format string, args ...interface{}) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}
func (l *jsonLogger) Warn(args ...interface{}) { l.log(slog.LevelWarn, fmt.Sprint(args...)) }
func (l *jsonLogger) Warnf(format string, args ...interface{}) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *jsonLogger) Info(args ...interface{}) { l.log(slog.LevelInfo, fmt.Sprint(args...)) }
func (l *jsonLogger) Infof(format string, args ...interface{}) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *jsonLogger) Debug(args ...interface{}) { l.log(slog.LevelDebug, fmt.Sprint(args...)) }
func (l *jsonLogger) Debugf(format string, args ...interface{}) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}

func (l *jsonLogger) WithFields(fields map[string]interface{}) Logger {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return &jsonLogger{logger: l.logger.With(attrs...)}
}

// nopLogger discards everything
type nopLogger struct{}

// NewNopLogger returns a Logger that drops all entries
func NewNopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Error(...interface{}) {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warn(...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}
func (nopLogger) Info(...interface{}) {}
func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Debug(...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (n nopLogger) WithFields(map[string]interface{}) Logger { return n }
