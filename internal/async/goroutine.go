package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		report(logger, name, r)
	}
}

// Call runs fn and converts a panic into an error so the caller can report it.
func Call(logger PanicLogger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report(logger, name, r)
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn()
}

// Group runs named loops in panic-guarded goroutines and waits for all of them.
type Group struct {
	logger PanicLogger
	wg     sync.WaitGroup
}

// NewGroup returns a Group that reports panics to logger.
func NewGroup(logger PanicLogger) *Group {
	return &Group{logger: logger}
}

// Go starts fn with ctx.
func (g *Group) Go(ctx context.Context, name string, fn func(context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer Recover(g.logger, name)
		fn(ctx)
	}()
}

// Wait blocks until every started loop returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

func report(logger PanicLogger, name string, r any) {
	if logger == nil {
		return
	}
	if name == "" {
		logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
		return
	}
	logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
}
