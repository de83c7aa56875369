package logging

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"ensemble/internal/observability"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

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

var (
	rootMu sync.RWMutex
	root   = observability.NewLogger(observability.LogConfig{})
)

// Configure replaces the process-wide structured logger used by component loggers.
func Configure(cfg observability.LogConfig) {
	logger := observability.NewLogger(cfg)
	rootMu.Lock()
	root = logger
	rootMu.Unlock()
}

// Root returns the process-wide structured logger.
func Root() *observability.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return root
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return FromObservabilityWithComponent(Root(), component)
}

// ForWorker returns the application logger tagged with a worker_id field.
func ForWorker(workerID string) Logger {
	ctx := observability.ContextWithWorkerID(context.Background(), workerID)
	return FromObservabilityWithComponent(Root().WithContext(ctx), "worker")
}

// slogPrintf formats printf-style call sites before handing the message to
// the structured logger.
type slogPrintf struct {
	logger *observability.Logger
}

// FromObservabilityWithComponent wraps logger, adding a component field
// when component is set.
func FromObservabilityWithComponent(logger *observability.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	if component != "" {
		logger = logger.With("component", component)
	}
	return slogPrintf{logger: logger}
}

func (l slogPrintf) Debug(format string, args ...any) { l.logger.Debug(fmt.Sprintf(format, args...)) }
func (l slogPrintf) Info(format string, args ...any)  { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l slogPrintf) Warn(format string, args ...any)  { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l slogPrintf) Error(format string, args ...any) { l.logger.Error(fmt.Sprintf(format, args...)) }

type prefixLogger struct {
	prefix string
	next   Logger
}

// WithPrefix prepends prefix to every message, e.g. "[agent_a] ".
func WithPrefix(logger Logger, prefix string) Logger {
	logger = OrNop(logger)
	if prefix == "" {
		return logger
	}
	return &prefixLogger{prefix: prefix, next: logger}
}

func (l *prefixLogger) Debug(format string, args ...any) { l.next.Debug(l.prefix+format, args...) }
func (l *prefixLogger) Info(format string, args ...any)  { l.next.Info(l.prefix+format, args...) }
func (l *prefixLogger) Warn(format string, args ...any)  { l.next.Warn(l.prefix+format, args...) }
func (l *prefixLogger) Error(format string, args ...any) { l.next.Error(l.prefix+format, args...) }
