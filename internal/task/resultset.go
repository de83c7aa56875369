package task

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownWorker is returned when a result names a worker outside the task.
	ErrUnknownWorker = errors.New("worker not assigned to task")
	// ErrDuplicateResult is returned when a worker already has an entry.
	ErrDuplicateResult = errors.New("worker already reported")
	// ErrForeignTask is returned when a result belongs to another task.
	ErrForeignTask = errors.New("result belongs to another task")
	// ErrClosed is returned when recording into a closed set.
	ErrClosed = errors.New("result set closed")
)

// ResultSet collects each assigned worker's outcome for one task. It only
// grows, and holds at most one entry per assigned worker.
type ResultSet struct {
	Task    Task                   `json:"task" yaml:"task"`
	Results map[string]AgentResult `json:"results" yaml:"results"`
	Closed  bool                   `json:"closed" yaml:"closed"`
}

// NewResultSet returns an empty, open set for t.
func NewResultSet(t Task) *ResultSet {
	return &ResultSet{
		Task:    t,
		Results: make(map[string]AgentResult, len(t.Workers)),
	}
}

// TaskID returns the identifier the set is keyed by.
func (rs *ResultSet) TaskID() string {
	return rs.Task.ID
}

// Record adds r. It rejects foreign tasks, unknown workers, duplicates and
// writes after Close.
func (rs *ResultSet) Record(r AgentResult) error {
	if rs.Closed {
		return ErrClosed
	}
	if r.TaskID != rs.Task.ID {
		return fmt.Errorf("%w: %s != %s", ErrForeignTask, r.TaskID, rs.Task.ID)
	}
	if !rs.Task.HasWorker(r.WorkerID) {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, r.WorkerID)
	}
	if _, ok := rs.Results[r.WorkerID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResult, r.WorkerID)
	}
	rs.Results[r.WorkerID] = r
	return nil
}

// Has reports whether workerID already has an entry.
func (rs *ResultSet) Has(workerID string) bool {
	_, ok := rs.Results[workerID]
	return ok
}

// Missing lists assigned workers without an entry, in task worker order.
func (rs *ResultSet) Missing() []string {
	var out []string
	for _, w := range rs.Task.Workers {
		if !rs.Has(w) {
			out = append(out, w)
		}
	}
	return out
}

// Complete reports whether every assigned worker has an entry.
func (rs *ResultSet) Complete() bool {
	return len(rs.Missing()) == 0
}

// Close freezes the set.
func (rs *ResultSet) Close() {
	rs.Closed = true
}

// Succeeded returns succeeded results in task worker order.
func (rs *ResultSet) Succeeded() []AgentResult {
	return rs.filter(func(r AgentResult) bool { return r.Succeeded() })
}

// Ordered returns every result in task worker order.
func (rs *ResultSet) Ordered() []AgentResult {
	return rs.filter(func(AgentResult) bool { return true })
}

// Counts returns the number of entries per status.
func (rs *ResultSet) Counts() map[Status]int {
	counts := make(map[Status]int, 3)
	for _, r := range rs.Results {
		counts[r.Status]++
	}
	return counts
}

func (rs *ResultSet) filter(keep func(AgentResult) bool) []AgentResult {
	out := make([]AgentResult, 0, len(rs.Results))
	for _, w := range rs.Task.Workers {
		if r, ok := rs.Results[w]; ok && keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Validate checks the solution against the set it was derived from:
// contributors must be succeeded workers, and none-available is legal iff
// there are no successes.
func (f FinalSolution) Validate(rs *ResultSet) error {
	if f.TaskID != rs.Task.ID {
		return fmt.Errorf("solution for %s validated against %s", f.TaskID, rs.Task.ID)
	}
	successes := len(rs.Succeeded())
	switch f.Method {
	case MethodNoneAvailable:
		if successes > 0 {
			return fmt.Errorf("none-available with %d successful workers", successes)
		}
		if len(f.Contributors) > 0 || f.Payload != "" {
			return errors.New("none-available solution carries a payload")
		}
		return nil
	case MethodSingleBest, MethodMerged:
		if successes == 0 {
			return fmt.Errorf("%s solution without successful workers", f.Method)
		}
		if len(f.Contributors) == 0 {
			return fmt.Errorf("%s solution without contributors", f.Method)
		}
		if f.Method == MethodSingleBest && len(f.Contributors) != 1 {
			return fmt.Errorf("single-best solution cites %d workers", len(f.Contributors))
		}
		seen := make(map[string]struct{}, len(f.Contributors))
		for _, w := range f.Contributors {
			r, ok := rs.Results[w]
			if !ok || !r.Succeeded() {
				return fmt.Errorf("contributor %s did not succeed", w)
			}
			if _, dup := seen[w]; dup {
				return fmt.Errorf("contributor %s listed twice", w)
			}
			seen[w] = struct{}{}
		}
		return nil
	default:
		return fmt.Errorf("unknown method %q", f.Method)
	}
}
