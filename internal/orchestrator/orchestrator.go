// Package orchestrator runs one problem through dispatch, result collection
// and synthesis.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ensemble/internal/aggregate"
	"ensemble/internal/broker"
	"ensemble/internal/dispatch"
	"ensemble/internal/logging"
	"ensemble/internal/observability"
	"ensemble/internal/supervisor"
	"ensemble/internal/task"
)

// Stage labels used in metrics.
const (
	StageDispatch   = "dispatch"
	StageAwait      = "await"
	StageSynthesize = "synthesize"
)

// DefaultTaskTimeout is used when Dependencies.TaskTimeout is zero.
const DefaultTaskTimeout = 5 * time.Minute

// Dependencies wires the collaborators of an Orchestrator.
type Dependencies struct {
	Dispatcher  *dispatch.Dispatcher
	Supervisor  *supervisor.Supervisor
	Aggregator  *aggregate.Aggregator
	TaskTimeout time.Duration
	Metrics     *Metrics
	Tracer      trace.Tracer
	Logger      logging.Logger
}

// Orchestrator coordinates one task at a time per Solve call; concurrent
// calls are independent.
type Orchestrator struct {
	dispatcher *dispatch.Dispatcher
	supervisor *supervisor.Supervisor
	aggregator *aggregate.Aggregator
	timeout    time.Duration
	metrics    *Metrics
	tracer     trace.Tracer
	logger     logging.Logger
	now        func() time.Time
}

// Outcome is everything a Solve call produced.
type Outcome struct {
	Task     task.Task          `json:"task" yaml:"task"`
	Results  *task.ResultSet    `json:"results" yaml:"results"`
	Solution task.FinalSolution `json:"solution" yaml:"solution"`
	Duration time.Duration      `json:"duration" yaml:"duration"`
}

// New validates deps and builds an Orchestrator. A nil Aggregator uses the
// confidence policy; nil Metrics use the shared default registry.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Supervisor == nil {
		return nil, errors.New("supervisor is required")
	}
	if deps.Aggregator == nil {
		deps.Aggregator = aggregate.New(nil)
	}
	if deps.TaskTimeout <= 0 {
		deps.TaskTimeout = DefaultTaskTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = defaultMetrics()
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("orchestrator")
	}
	return &Orchestrator{
		dispatcher: deps.Dispatcher,
		supervisor: deps.Supervisor,
		aggregator: deps.Aggregator,
		timeout:    deps.TaskTimeout,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Solve dispatches problem to every worker, waits until all report or the
// task timeout elapses, and synthesizes the answer. Individual worker
// failures never fail Solve; only broker outages, misuse and cancellation do.
func (o *Orchestrator) Solve(ctx context.Context, problem string) (Outcome, error) {
	start := o.now()
	o.metrics.IncActiveTasks()
	defer o.metrics.DecActiveTasks()

	var out Outcome
	deadline := start.Add(o.timeout)

	err := o.stage(ctx, StageDispatch, observability.SpanDispatch, func(ctx context.Context, span trace.Span) error {
		t, err := o.dispatcher.Dispatch(ctx, problem, deadline)
		if err != nil {
			return err
		}
		out.Task = t
		span.SetAttributes(
			attribute.String(observability.AttrTaskID, t.ID),
			attribute.Int(observability.AttrWorkerCount, len(t.Workers)),
		)
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	ctx = observability.ContextWithTaskID(ctx, out.Task.ID)
	o.logger.Info("task %s: waiting for %d workers until %s", out.Task.ID, len(out.Task.Workers), deadline.Format(time.TimeOnly))

	err = o.stage(ctx, StageAwait, observability.SpanAwait, func(ctx context.Context, span trace.Span) error {
		rs, err := o.supervisor.AwaitResults(ctx, out.Task)
		if err != nil {
			return err
		}
		out.Results = rs
		for _, w := range out.Task.Workers {
			o.metrics.IncWorkerOutcome(w, string(rs.Results[w].Status))
		}
		counts := rs.Counts()
		span.SetAttributes(
			attribute.Int("ensemble.succeeded", counts[task.StatusSucceeded]),
			attribute.Int("ensemble.failed", counts[task.StatusFailed]),
			attribute.Int("ensemble.timed_out", counts[task.StatusTimedOut]),
		)
		return nil
	})
	if err != nil {
		return out, err
	}

	err = o.stage(ctx, StageSynthesize, observability.SpanSynthesize, func(ctx context.Context, span trace.Span) error {
		final, err := o.aggregator.Synthesize(ctx, out.Results)
		if err != nil {
			return err
		}
		out.Solution = final
		span.SetAttributes(attribute.String(observability.AttrMethod, string(final.Method)))
		return nil
	})
	if err != nil {
		return out, err
	}

	out.Duration = o.now().Sub(start)
	o.metrics.IncSolution(string(out.Solution.Method))
	o.logger.Info("task %s: %s in %v", out.Task.ID, out.Solution.Method, out.Duration.Round(time.Millisecond))
	return out, nil
}

func (o *Orchestrator) stage(ctx context.Context, stage, spanName string, fn func(context.Context, trace.Span) error) error {
	ctx, span := observability.StartSpan(ctx, o.tracer, spanName)
	defer span.End()

	began := o.now()
	err := fn(ctx, span)
	status := "success"
	if err != nil {
		status = "error"
		o.metrics.IncStageFailure(stage, failureReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.metrics.ObserveStageDuration(stage, status, o.now().Sub(began))
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, broker.ErrUnavailable):
		return "broker_unavailable"
	case errors.Is(err, dispatch.ErrNoWorkersConfigured):
		return "no_workers"
	case errors.Is(err, dispatch.ErrDuplicateTask):
		return "duplicate_task"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
