// Package dispatch fans a problem out to every configured worker queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ensemble/internal/broker"
	"ensemble/internal/id"
	"ensemble/internal/logging"
	"ensemble/internal/task"
)

var (
	// ErrNoWorkersConfigured is returned when there is nobody to dispatch to.
	ErrNoWorkersConfigured = errors.New("no workers configured")
	// ErrDuplicateTask is returned when the task identifier was already dispatched.
	ErrDuplicateTask = errors.New("task already dispatched")
)

const (
	defaultClaimGrace = time.Hour
	minClaimTTL       = time.Minute
)

// IDGenerator produces fresh task identifiers.
type IDGenerator interface {
	NewTaskID() string
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithIDGenerator overrides the task identifier source.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(logger) }
}

// WithClaimGrace sets how long a task identifier stays reserved after its deadline.
func WithClaimGrace(grace time.Duration) Option {
	return func(d *Dispatcher) {
		if grace > 0 {
			d.claimGrace = grace
		}
	}
}

// Dispatcher enqueues one assignment per configured worker. It never waits
// for workers to pick anything up.
type Dispatcher struct {
	broker     broker.Broker
	workers    []string
	ids        IDGenerator
	now        func() time.Time
	logger     logging.Logger
	claimGrace time.Duration
}

// New returns a Dispatcher for workers. Blank and repeated identifiers are dropped.
func New(b broker.Broker, workers []string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		broker:     b,
		workers:    normalizeWorkers(workers),
		ids:        id.NewGenerator(id.StrategyKSUID),
		now:        time.Now,
		logger:     logging.NewComponentLogger("dispatch"),
		claimGrace: defaultClaimGrace,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Workers returns the configured worker identifiers in dispatch order.
func (d *Dispatcher) Workers() []string {
	return append([]string(nil), d.workers...)
}

// Dispatch creates a task with a fresh identifier and enqueues it to every worker.
func (d *Dispatcher) Dispatch(ctx context.Context, problem string, deadline time.Time) (task.Task, error) {
	return d.DispatchTask(ctx, task.Task{
		ID:       d.ids.NewTaskID(),
		Problem:  problem,
		Deadline: deadline,
	})
}

// DispatchTask enqueues a caller-built task. An empty worker list means every
// configured worker. The identifier is reserved first, so a duplicate enqueues
// nothing.
func (d *Dispatcher) DispatchTask(ctx context.Context, t task.Task) (task.Task, error) {
	if len(t.Workers) == 0 {
		t.Workers = d.Workers()
	} else {
		t.Workers = normalizeWorkers(t.Workers)
	}
	if len(t.Workers) == 0 {
		return task.Task{}, ErrNoWorkersConfigured
	}
	if err := task.ValidateID(t.ID); err != nil {
		return task.Task{}, fmt.Errorf("task id: %w", err)
	}
	for _, w := range t.Workers {
		if err := task.ValidateID(w); err != nil {
			return task.Task{}, fmt.Errorf("worker id: %w", err)
		}
	}
	if strings.TrimSpace(t.Problem) == "" {
		return task.Task{}, errors.New("problem statement is required")
	}
	now := d.now()
	if !t.Deadline.After(now) {
		return task.Task{}, fmt.Errorf("deadline %s is not in the future", t.Deadline.Format(time.RFC3339))
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	record, err := task.EncodeTask(t)
	if err != nil {
		return task.Task{}, err
	}
	ttl := t.Deadline.Sub(now) + d.claimGrace
	if ttl < minClaimTTL {
		ttl = minClaimTTL
	}
	claimed, err := d.broker.Claim(ctx, broker.TaskKey(t.ID), record, ttl)
	if err != nil {
		return task.Task{}, err
	}
	if !claimed {
		return task.Task{}, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}

	if err := d.enqueue(ctx, t.Assignments()); err != nil {
		return task.Task{}, err
	}
	d.logger.Info("dispatched %s to %d workers (deadline %s)", t.ID, len(t.Workers), t.Deadline.Format(time.RFC3339))
	return t, nil
}

// Redispatch enqueues t again for a subset of its workers, typically those
// that failed or timed out.
func (d *Dispatcher) Redispatch(ctx context.Context, t task.Task, workers []string) error {
	workers = normalizeWorkers(workers)
	if len(workers) == 0 {
		return ErrNoWorkersConfigured
	}
	if !t.Deadline.After(d.now()) {
		return fmt.Errorf("task %s deadline already passed", t.ID)
	}
	subset := t
	subset.Workers = workers
	for _, w := range workers {
		if !t.HasWorker(w) {
			return fmt.Errorf("redispatch %s: %w: %s", t.ID, task.ErrUnknownWorker, w)
		}
	}
	if err := d.enqueue(ctx, subset.Assignments()); err != nil {
		return err
	}
	d.logger.Info("redispatched %s to %v", t.ID, workers)
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, assignments []task.Assignment) error {
	for i, a := range assignments {
		msg, err := a.Encode()
		if err != nil {
			return err
		}
		if err := d.broker.Enqueue(ctx, broker.TaskQueueKey(a.WorkerID), msg); err != nil {
			if i > 0 {
				d.logger.Warn("task %s partially dispatched: %d of %d assignments enqueued", a.TaskID, i, len(assignments))
			}
			return fmt.Errorf("enqueue %s for %s: %w", a.TaskID, a.WorkerID, err)
		}
		d.logger.Debug("enqueued %s on %s", a.TaskID, broker.TaskQueueKey(a.WorkerID))
	}
	return nil
}

func normalizeWorkers(workers []string) []string {
	seen := make(map[string]struct{}, len(workers))
	out := make([]string, 0, len(workers))
	for _, w := range workers {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
