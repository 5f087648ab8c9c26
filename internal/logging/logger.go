// Package logging defines a minimal, printf-style logging contract shared by
// every component. Components depend on the interface; binaries decide where
// output goes.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level ordering for the writer logger.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

func levelRank(level string) int {
	switch strings.ToLower(level) {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

type writerLogger struct {
	mu        sync.Mutex
	out       io.Writer
	component string
	minRank   int
}

// New returns a leveled logger writing timestamped lines to out.
func New(level string, out io.Writer) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &writerLogger{out: out, minRank: levelRank(level)}
}

// NewComponentLogger returns a stderr logger scoped to a component name.
func NewComponentLogger(component string) Logger {
	return &writerLogger{out: os.Stderr, component: component, minRank: levelRank(LevelInfo)}
}

func (l *writerLogger) log(rank int, level, format string, args ...any) {
	if rank < l.minRank {
		return
	}
	msg := fmt.Sprintf(format, args...)
	prefix := ""
	if l.component != "" {
		prefix = "[" + l.component + "] "
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %-5s %s%s\n", time.Now().Format("2006-01-02 15:04:05.000"), strings.ToUpper(level), prefix, msg)
}

func (l *writerLogger) Debug(format string, args ...any) { l.log(0, LevelDebug, format, args...) }
func (l *writerLogger) Info(format string, args ...any)  { l.log(1, LevelInfo, format, args...) }
func (l *writerLogger) Warn(format string, args ...any)  { l.log(2, LevelWarn, format, args...) }
func (l *writerLogger) Error(format string, args ...any) { l.log(3, LevelError, format, args...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type slogPrintfLogger struct {
	logger *slog.Logger
}

// FromSlog wraps a structured logger and preserves printf-style call sites by
// formatting the message before emitting it.
func FromSlog(logger *slog.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	scoped := logger
	if component != "" {
		scoped = scoped.With("component", component)
	}
	return &slogPrintfLogger{logger: scoped}
}

func (l *slogPrintfLogger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *slogPrintfLogger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *slogPrintfLogger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogPrintfLogger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
