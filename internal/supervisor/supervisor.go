// Package supervisor waits for every worker of a task to report, or for the
// task deadline, whichever comes first.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ensemble/internal/broker"
	"ensemble/internal/logging"
	"ensemble/internal/task"
)

// ErrWorkerTimeout is the error detail of a worker that never reported.
var ErrWorkerTimeout = errors.New("worker did not report before the deadline")

// Config bounds the polling loop. Zero values fall back to defaults.
type Config struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 2 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	return c
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Supervisor) { s.logger = logging.OrNop(logger) }
}

// WithClock overrides the wall clock used against task deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// Supervisor polls result keys for one task at a time; it is safe to run
// several AwaitResults calls concurrently.
type Supervisor struct {
	broker broker.Broker
	cfg    Config
	logger logging.Logger
	now    func() time.Time
}

// New returns a Supervisor reading from b.
func New(b broker.Broker, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		broker: b,
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger("supervisor"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AwaitResults returns a closed ResultSet holding exactly one entry per
// assigned worker. Workers still missing at the deadline are recorded as
// timed out. It fails only when the broker is unavailable or ctx is done.
func (s *Supervisor) AwaitResults(ctx context.Context, t task.Task) (*task.ResultSet, error) {
	rs := task.NewResultSet(t)
	for {
		if err := s.poll(ctx, rs); err != nil {
			return nil, err
		}
		if rs.Complete() {
			rs.Close()
			s.logger.Info("task %s: all %d workers reported", t.ID, len(t.Workers))
			return rs, nil
		}

		remaining := t.Deadline.Sub(s.now())
		if remaining <= 0 {
			s.expire(rs)
			return rs, nil
		}
		wait := s.cfg.PollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Supervisor) expire(rs *task.ResultSet) {
	missing := rs.Missing()
	for _, w := range missing {
		err := rs.Record(task.AgentResult{
			WorkerID:    w,
			TaskID:      rs.TaskID(),
			Status:      task.StatusTimedOut,
			Error:       ErrWorkerTimeout.Error(),
			CompletedAt: rs.Task.Deadline,
		})
		if err != nil {
			s.logger.Error("task %s: record timeout for %s: %v", rs.TaskID(), w, err)
		}
	}
	rs.Close()
	s.logger.Warn("task %s: deadline reached, %d of %d workers timed out %v", rs.TaskID(), len(missing), len(rs.Task.Workers), missing)
}

// poll fetches every outstanding result key concurrently and records the
// terminal results it finds.
func (s *Supervisor) poll(ctx context.Context, rs *task.ResultSet) error {
	outstanding := rs.Missing()
	found := make([]*task.AgentResult, len(outstanding))
	deadline := rs.Task.Deadline
	budget := s.fetchBudget(deadline)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, w := range outstanding {
		g.Go(func() error {
			r, err := s.fetch(gctx, rs.TaskID(), w, deadline, budget)
			if err != nil {
				return err
			}
			found[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	for _, r := range found {
		if r == nil {
			continue
		}
		if err := rs.Record(*r); err != nil {
			s.logger.Warn("task %s: ignoring result from %s: %v", rs.TaskID(), r.WorkerID, err)
			continue
		}
		s.logger.Debug("task %s: %s reported %s", rs.TaskID(), r.WorkerID, r.Status)
	}
	return nil
}

// fetchBudget caps a single fetch so a stalled broker cannot hold the task
// much past its deadline. The floor keeps the final poll from being starved.
func (s *Supervisor) fetchBudget(deadline time.Time) time.Duration {
	budget := s.cfg.FetchTimeout
	if remaining := deadline.Sub(s.now()) + s.cfg.PollInterval; remaining < budget {
		budget = remaining
	}
	floor := min(s.cfg.FetchTimeout, s.cfg.PollInterval)
	if budget < floor {
		budget = floor
	}
	return budget
}

// fetch returns nil when the worker has no usable result yet. Results that
// completed after the deadline are not usable.
func (s *Supervisor) fetch(ctx context.Context, taskID, workerID string, deadline time.Time, budget time.Duration) (*task.AgentResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	key := broker.ResultKey(taskID, workerID)
	data, err := s.broker.GetResult(callCtx, key)
	switch {
	case err == nil:
	case errors.Is(err, broker.ErrNoMessage):
		return nil, nil
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("fetch %s timed out, retrying next tick", key)
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	r, err := task.DecodeAgentResult(data)
	if err != nil {
		s.logger.Warn("%s: %v", key, err)
		return nil, nil
	}
	if r.TaskID != taskID || r.WorkerID != workerID {
		s.logger.Warn("%s holds a result for %s/%s, ignoring", key, r.TaskID, r.WorkerID)
		return nil, nil
	}
	if err := r.Validate(); err != nil {
		s.logger.Warn("%s: %v", key, err)
		return nil, nil
	}
	if r.CompletedAt.After(deadline) {
		s.logger.Warn("%s completed at %s, after the deadline; ignoring", key, r.CompletedAt.Format(time.RFC3339Nano))
		return nil, nil
	}
	return &r, nil
}
