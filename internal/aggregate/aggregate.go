// Package aggregate reduces a task's ResultSet to one FinalSolution. It never
// touches the broker.
package aggregate

import (
	"context"
	"fmt"

	"ensemble/internal/logging"
	"ensemble/internal/task"
)

// Decision is a policy's pick among two or more succeeded candidates.
type Decision struct {
	Payload      string
	Contributors []string
	Method       task.Method
	Reason       string
}

// Policy chooses or synthesizes an answer from candidates, which are
// succeeded results in task worker order. It must be deterministic for a
// given candidate list.
type Policy interface {
	Name() string
	Decide(ctx context.Context, problem string, candidates []task.AgentResult) (Decision, error)
}

// Aggregator applies a Policy when more than one worker succeeded.
type Aggregator struct {
	policy Policy
	logger logging.Logger
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Aggregator) { a.logger = logging.OrNop(logger) }
}

// New returns an Aggregator using policy, or ConfidencePolicy when nil.
func New(policy Policy, opts ...Option) *Aggregator {
	if policy == nil {
		policy = ConfidencePolicy{}
	}
	a := &Aggregator{policy: policy, logger: logging.NewComponentLogger("aggregate")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the configured policy.
func (a *Aggregator) Policy() Policy {
	return a.policy
}

// Synthesize returns the accepted solution, or none-available with the
// failure detail of every worker when nobody succeeded.
func (a *Aggregator) Synthesize(ctx context.Context, rs *task.ResultSet) (task.FinalSolution, error) {
	final := task.FinalSolution{
		TaskID:      rs.TaskID(),
		Diagnostics: diagnostics(rs),
	}
	candidates := rs.Succeeded()

	switch len(candidates) {
	case 0:
		final.Method = task.MethodNoneAvailable
		a.logger.Warn("task %s: no worker succeeded", rs.TaskID())
	case 1:
		final.Method = task.MethodSingleBest
		final.Payload = candidates[0].Payload
		final.Contributors = []string{candidates[0].WorkerID}
		final.Diagnostics["reason"] = "only successful worker"
	default:
		decision, err := a.policy.Decide(ctx, rs.Task.Problem, candidates)
		if err != nil {
			if ctx.Err() != nil {
				return task.FinalSolution{}, ctx.Err()
			}
			a.logger.Warn("task %s: policy %s failed, using confidence: %v", rs.TaskID(), a.policy.Name(), err)
			final.Diagnostics["policy_error"] = err.Error()
			decision, _ = ConfidencePolicy{}.Decide(ctx, rs.Task.Problem, candidates)
		}
		final.Method = decision.Method
		final.Payload = decision.Payload
		final.Contributors = decision.Contributors
		final.Diagnostics["policy"] = a.policy.Name()
		final.Diagnostics["reason"] = decision.Reason
	}

	if err := final.Validate(rs); err != nil {
		return task.FinalSolution{}, fmt.Errorf("synthesize %s: %w", rs.TaskID(), err)
	}
	a.logger.Info("task %s: %s from %v", rs.TaskID(), final.Method, final.Contributors)
	return final, nil
}

func diagnostics(rs *task.ResultSet) map[string]string {
	out := make(map[string]string, len(rs.Task.Workers)+2)
	for _, w := range rs.Task.Workers {
		r, ok := rs.Results[w]
		switch {
		case !ok:
			out[w] = "missing"
		case r.Succeeded():
			out[w] = fmt.Sprintf("succeeded (confidence %.2f)", r.Confidence)
		default:
			out[w] = fmt.Sprintf("%s: %s", r.Status, r.Error)
		}
	}
	return out
}
