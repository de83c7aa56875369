// Package attempt holds the logic a worker runs for one assignment.
package attempt

import (
	"context"

	"ensemble/internal/capability"
	"ensemble/internal/task"
)

// Outcome is what a successful attempt produced.
type Outcome struct {
	Payload    string
	Confidence float64
	Artifacts  map[string]string
}

// Runner solves one assignment using only the capabilities it is handed.
// A returned error marks the attempt failed; the worker publishes it as such.
type Runner interface {
	Run(ctx context.Context, a task.Assignment, caps capability.Set) (Outcome, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, a task.Assignment, caps capability.Set) (Outcome, error)

func (f RunnerFunc) Run(ctx context.Context, a task.Assignment, caps capability.Set) (Outcome, error) {
	return f(ctx, a, caps)
}
