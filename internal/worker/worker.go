// Package worker consumes a worker's dedicated queue, runs one attempt per
// assignment and publishes exactly one result for it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ensemble/internal/async"
	"ensemble/internal/attempt"
	"ensemble/internal/broker"
	"ensemble/internal/capability"
	"ensemble/internal/logging"
	"ensemble/internal/observability"
	"ensemble/internal/task"
)

// ErrAttemptTimeout marks an attempt that exceeded its budget or the task deadline.
var ErrAttemptTimeout = errors.New("attempt timed out")

const (
	defaultPollInterval  = time.Second
	defaultAttemptBudget = 10 * time.Minute
	defaultResultGrace   = time.Hour
	minResultTTL         = time.Minute
	publishTimeout       = 5 * time.Second
)

// Config tunes a Worker. Zero values fall back to defaults.
type Config struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	AttemptBudget time.Duration `mapstructure:"attempt_budget" yaml:"attempt_budget"`
	// ResultGrace is how long a result outlives the task deadline.
	ResultGrace time.Duration `mapstructure:"result_grace" yaml:"result_grace"`
	// ArtifactLimit caps each workspace file copied into the result, in bytes.
	ArtifactLimit    int64 `mapstructure:"artifact_limit" yaml:"artifact_limit"`
	CleanupWorkspace bool  `mapstructure:"cleanup_workspace" yaml:"cleanup_workspace"`
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.AttemptBudget <= 0 {
		c.AttemptBudget = defaultAttemptBudget
	}
	if c.ResultGrace <= 0 {
		c.ResultGrace = defaultResultGrace
	}
	if c.ArtifactLimit <= 0 {
		c.ArtifactLimit = 256 << 10
	}
	return c
}

// CapabilityFactory builds the capability set for one workspace.
type CapabilityFactory func(ws *capability.Workspace) capability.Set

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(w *Worker) { w.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTracer sets the tracer used for attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) { w.tracer = tracer }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// Worker is one independent agent bound to its own queue.
type Worker struct {
	id      string
	broker  broker.Broker
	runner  attempt.Runner
	spaces  *capability.Workspaces
	caps    CapabilityFactory
	cfg     Config
	logger  logging.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// New validates its collaborators and returns a Worker.
func New(id string, b broker.Broker, runner attempt.Runner, spaces *capability.Workspaces, caps CapabilityFactory, cfg Config, opts ...Option) (*Worker, error) {
	switch {
	case id == "":
		return nil, errors.New("worker id is required")
	case b == nil:
		return nil, errors.New("worker broker is required")
	case runner == nil:
		return nil, errors.New("worker runner is required")
	case spaces == nil:
		return nil, errors.New("worker workspaces are required")
	case caps == nil:
		return nil, errors.New("worker capability factory is required")
	}
	w := &Worker{
		id:     id,
		broker: b,
		runner: runner,
		spaces: spaces,
		caps:   caps,
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger("worker/" + id),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.id
}

// Run consumes the worker's queue until ctx is cancelled. Broker outages are
// logged and retried; Run only returns when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	queue := broker.TaskQueueKey(w.id)
	w.logger.Info("listening on %s", queue)
	for {
		if ctx.Err() != nil {
			w.logger.Info("stopping: %v", ctx.Err())
			return nil
		}
		msg, err := w.broker.Dequeue(ctx, queue, w.cfg.PollInterval)
		switch {
		case err == nil:
		case errors.Is(err, broker.ErrNoMessage):
			continue
		case ctx.Err() != nil:
			continue
		default:
			w.metrics.incBrokerError(w.id, "dequeue")
			w.logger.Warn("dequeue from %s failed, retrying in %v: %v", queue, w.cfg.PollInterval, err)
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		a, err := task.DecodeAssignment(msg)
		if err != nil {
			w.metrics.incDropped(w.id, "malformed")
			w.logger.Warn("dropping malformed message: %v", err)
			continue
		}
		if a.WorkerID != w.id {
			w.metrics.incDropped(w.id, "misrouted")
			w.logger.Warn("dropping assignment for %s found on %s", a.WorkerID, queue)
			continue
		}
		if _, err := w.Process(ctx, a); err != nil {
			w.logger.Error("task %s: %v", a.TaskID, err)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Process runs one attempt and publishes its result. The returned error only
// reports a failure to publish; attempt failures are carried in the result.
func (w *Worker) Process(ctx context.Context, a task.Assignment) (task.AgentResult, error) {
	start := w.now()
	logger := logging.WithPrefix(w.logger, fmt.Sprintf("[%s] ", a.TaskID))
	logger.Info("received task")

	ctx = observability.ContextWithWorkerID(observability.ContextWithTaskID(ctx, a.TaskID), w.id)
	ctx, span := observability.StartSpan(ctx, w.tracer, observability.SpanAttempt,
		attribute.String(observability.AttrWorkerID, w.id))
	defer span.End()

	result := task.AgentResult{WorkerID: w.id, TaskID: a.TaskID}
	outcome, err := w.attempt(ctx, a, logger)
	if err != nil {
		result.Status = task.StatusFailed
		result.Error = err.Error()
		logger.Warn("attempt failed: %v", err)
	} else {
		result.Status = task.StatusSucceeded
		result.Payload = outcome.Payload
		result.Confidence = outcome.Confidence
		result.Artifacts = outcome.Artifacts
	}
	result.CompletedAt = w.now()
	span.SetAttributes(attribute.String(observability.AttrStatus, string(result.Status)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	w.metrics.observeAttempt(w.id, string(result.Status), result.CompletedAt.Sub(start))

	if err := w.publish(ctx, a, result); err != nil {
		w.metrics.incBrokerError(w.id, "publish")
		return result, err
	}
	logger.Info("published %s result in %v", result.Status, result.CompletedAt.Sub(start).Round(time.Millisecond))

	if w.cfg.CleanupWorkspace {
		if err := w.spaces.Release(w.id, a.TaskID); err != nil {
			logger.Warn("release workspace: %v", err)
		}
	}
	return result, nil
}

func (w *Worker) budget(a task.Assignment) time.Duration {
	budget := w.cfg.AttemptBudget
	if !a.Deadline.IsZero() {
		if remaining := a.Deadline.Sub(w.now()); remaining < budget {
			budget = remaining
		}
	}
	return budget
}

type attemptResult struct {
	outcome attempt.Outcome
	err     error
}

func (w *Worker) attempt(ctx context.Context, a task.Assignment, logger logging.Logger) (attempt.Outcome, error) {
	budget := w.budget(a)
	if budget <= 0 {
		return attempt.Outcome{}, fmt.Errorf("%w: deadline %s already passed", ErrAttemptTimeout, a.Deadline.Format(time.RFC3339))
	}

	ws, err := w.spaces.Prepare(w.id, a.TaskID)
	if err != nil {
		return attempt.Outcome{}, err
	}
	caps := w.caps(ws)

	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		var res attemptResult
		res.err = async.Call(logger, "attempt "+a.TaskID, func() error {
			out, err := w.runner.Run(attemptCtx, a, caps)
			res.outcome = out
			return err
		})
		done <- res
	}()

	// A runner that ignores cancellation is abandoned once the budget expires.
	var res attemptResult
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		res.err = attemptCtx.Err()
	}
	if res.err != nil {
		switch {
		case ctx.Err() != nil:
			return attempt.Outcome{}, fmt.Errorf("worker stopped: %w", ctx.Err())
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			return attempt.Outcome{}, fmt.Errorf("%w after %v: %v", ErrAttemptTimeout, budget, res.err)
		}
		return attempt.Outcome{}, res.err
	}

	out := res.outcome
	snapshot, err := ws.Snapshot(w.cfg.ArtifactLimit)
	if err != nil {
		logger.Warn("collect artifacts: %v", err)
	}
	if len(snapshot) > 0 || len(out.Artifacts) > 0 {
		merged := make(map[string]string, len(snapshot)+len(out.Artifacts))
		for k, v := range snapshot {
			merged[k] = v
		}
		for k, v := range out.Artifacts {
			merged[k] = v
		}
		out.Artifacts = merged
	}
	return out, nil
}

// resultTTL keeps the result until the deadline plus grace, and at least
// minResultTTL so a late result is still inspectable.
func (w *Worker) resultTTL(a task.Assignment) time.Duration {
	if a.Deadline.IsZero() {
		return w.cfg.ResultGrace
	}
	ttl := a.Deadline.Sub(w.now()) + w.cfg.ResultGrace
	if ttl < minResultTTL {
		ttl = minResultTTL
	}
	return ttl
}

func (w *Worker) publish(ctx context.Context, a task.Assignment, result task.AgentResult) error {
	if err := result.Validate(); err != nil {
		return err
	}
	data, err := result.Encode()
	if err != nil {
		return err
	}
	// Publish even when the worker is stopping so the task still sees one result.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	key := broker.ResultKey(a.TaskID, w.id)
	if err := w.broker.PutResult(pubCtx, key, data, w.resultTTL(a)); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}
