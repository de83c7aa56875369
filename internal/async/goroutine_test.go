package async

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type captureLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureLogger) Error(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, format)
}

func (c *captureLogger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestCallConvertsPanic(t *testing.T) {
	logger := &captureLogger{}
	err := Call(logger, "attempt", func() error {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "panic in attempt: boom") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if logger.count() != 1 {
		t.Fatalf("expected panic to be logged once, got %d", logger.count())
	}
}

func TestCallPassesThroughError(t *testing.T) {
	want := errors.New("plain")
	if err := Call(nil, "x", func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestGroupWaitsAndRecovers(t *testing.T) {
	logger := &captureLogger{}
	group := NewGroup(logger)
	var ran atomic.Int32

	group.Go(context.Background(), "ok", func(context.Context) { ran.Add(1) })
	group.Go(context.Background(), "bad", func(context.Context) {
		ran.Add(1)
		panic("worker crashed")
	})
	group.Wait()

	if ran.Load() != 2 {
		t.Fatalf("expected both loops to run, got %d", ran.Load())
	}
	if logger.count() != 1 {
		t.Fatalf("expected one panic report, got %d", logger.count())
	}
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &captureLogger{}
	done := make(chan struct{})
	Go(logger, "background", func() {
		defer close(done)
		panic("boom")
	})
	<-done
	deadline := time.Now().Add(time.Second)
	for logger.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if logger.count() != 1 {
		t.Fatalf("expected panic to be logged once, got %d", logger.count())
	}
}
