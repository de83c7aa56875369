// Package task holds the data exchanged between the dispatcher, the workers,
// the completion supervisor and the aggregator.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Status is the terminal state of one assignment.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Method tags how a FinalSolution was produced.
type Method string

const (
	MethodSingleBest    Method = "single-best"
	MethodMerged        Method = "merged"
	MethodNoneAvailable Method = "none-available"
)

// Task is one problem-solving invocation fanned out to every configured
// worker. It is immutable once created.
type Task struct {
	ID        string    `json:"id" yaml:"id"`
	Problem   string    `json:"problem" yaml:"problem"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Deadline  time.Time `json:"deadline" yaml:"deadline"`
	Workers   []string  `json:"workers" yaml:"workers"`
}

// HasWorker reports whether workerID is assigned to t.
func (t Task) HasWorker(workerID string) bool {
	for _, w := range t.Workers {
		if w == workerID {
			return true
		}
	}
	return false
}

// Assignments returns one Assignment per assigned worker, in worker order.
func (t Task) Assignments() []Assignment {
	out := make([]Assignment, 0, len(t.Workers))
	for _, w := range t.Workers {
		out = append(out, Assignment{
			TaskID:   t.ID,
			WorkerID: w,
			Problem:  t.Problem,
			Deadline: t.Deadline,
		})
	}
	return out
}

// Assignment pairs one task with one worker. It is the queue message body.
type Assignment struct {
	TaskID   string    `json:"task_id"`
	WorkerID string    `json:"worker_id"`
	Problem  string    `json:"problem"`
	Deadline time.Time `json:"deadline"`
}

// Encode serialises the assignment for the broker.
func (a Assignment) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAssignment parses a queue message.
func DecodeAssignment(data []byte) (Assignment, error) {
	var a Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return Assignment{}, fmt.Errorf("decode assignment: %w", err)
	}
	if err := ValidateID(a.TaskID); err != nil {
		return Assignment{}, fmt.Errorf("decode assignment: task id: %w", err)
	}
	if err := ValidateID(a.WorkerID); err != nil {
		return Assignment{}, fmt.Errorf("decode assignment: worker id: %w", err)
	}
	return a, nil
}

// AgentResult is the outcome of one assignment.
type AgentResult struct {
	WorkerID    string            `json:"worker_id" yaml:"worker_id"`
	TaskID      string            `json:"task_id" yaml:"task_id"`
	Status      Status            `json:"status" yaml:"status"`
	Payload     string            `json:"payload,omitempty" yaml:"payload,omitempty"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
	Confidence  float64           `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Artifacts   map[string]string `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	CompletedAt time.Time         `json:"completed_at" yaml:"completed_at"`
}

// Succeeded reports whether the worker produced a payload.
func (r AgentResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Validate checks that error detail is present iff the status is not succeeded.
func (r AgentResult) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("result %s/%s: unknown status %q", r.TaskID, r.WorkerID, r.Status)
	}
	if r.Succeeded() && r.Error != "" {
		return fmt.Errorf("result %s/%s: succeeded result carries error detail", r.TaskID, r.WorkerID)
	}
	if !r.Succeeded() && r.Error == "" {
		return fmt.Errorf("result %s/%s: %s result without error detail", r.TaskID, r.WorkerID, r.Status)
	}
	return nil
}

// Encode serialises the result for the broker.
func (r AgentResult) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeAgentResult parses a stored result.
func DecodeAgentResult(data []byte) (AgentResult, error) {
	var r AgentResult
	if err := json.Unmarshal(data, &r); err != nil {
		return AgentResult{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

// FinalSolution is the single accepted answer for a task.
type FinalSolution struct {
	TaskID       string            `json:"task_id" yaml:"task_id"`
	Payload      string            `json:"payload,omitempty" yaml:"payload,omitempty"`
	Contributors []string          `json:"contributors,omitempty" yaml:"contributors,omitempty"`
	Method       Method            `json:"method" yaml:"method"`
	Diagnostics  map[string]string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Accepted reports whether the solution carries an answer.
func (f FinalSolution) Accepted() bool {
	return f.Method != MethodNoneAvailable
}

// EncodeTask serialises t for the dispatch record.
func EncodeTask(t Task) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask parses a dispatch record.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}

// ValidateID checks that a task or worker identifier is usable as a single
// path element and key segment: non-blank, not "." or "..", and free of path
// separators and colons.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("identifier is empty")
	case id == "." || id == "..":
		return fmt.Errorf("identifier %q is reserved", id)
	case strings.ContainsAny(id, `/\:`) || filepath.Base(id) != id:
		return fmt.Errorf("identifier %q must not contain path separators or ':'", id)
	}
	return nil
}
