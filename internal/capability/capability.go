// Package capability defines the operations a worker attempt may invoke and
// their default implementations.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Capability names, used in errors, logs and metrics.
const (
	NameGenerate    = "generate"
	NameExecuteCode = "execute_code"
	NameReadFile    = "read_file"
	NameWriteFile   = "write_file"
	NameWebSearch   = "web_search"
	NameRunShell    = "run_shell"
)

// ErrNotConfigured is returned by a capability that has no backing implementation.
var ErrNotConfigured = errors.New("capability not configured")

// Error is a CapabilityFailure: the named capability could not complete.
type Error struct {
	Capability string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Capability, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var capErr *Error
	if errors.As(err, &capErr) {
		return err
	}
	return &Error{Capability: name, Err: err}
}

// Prompt is one model call.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// ExecResult is the captured outcome of a process.
type ExecResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Success reports a zero exit code within the time limit.
func (r ExecResult) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

// Set is everything an attempt may call, zero or more times, in any order.
type Set interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	ExecuteCode(ctx context.Context, language, code string) (ExecResult, error)
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	WebSearch(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
	RunShell(ctx context.Context, command string) (ExecResult, error)
}

// Model generates text.
type Model interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Searcher searches the web.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Toolbox is the default Set, scoped to one workspace.
type Toolbox struct {
	Model    Model
	Executor *Executor
	Files    *Workspace
	Search   Searcher
}

var _ Set = (*Toolbox)(nil)

func (t *Toolbox) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if t.Model == nil {
		return "", wrap(NameGenerate, ErrNotConfigured)
	}
	out, err := t.Model.Generate(ctx, prompt)
	return out, wrap(NameGenerate, err)
}

func (t *Toolbox) ExecuteCode(ctx context.Context, language, code string) (ExecResult, error) {
	if t.Executor == nil {
		return ExecResult{}, wrap(NameExecuteCode, ErrNotConfigured)
	}
	res, err := t.Executor.ExecuteCode(ctx, language, code)
	return res, wrap(NameExecuteCode, err)
}

func (t *Toolbox) ReadFile(ctx context.Context, path string) (string, error) {
	if t.Files == nil {
		return "", wrap(NameReadFile, ErrNotConfigured)
	}
	out, err := t.Files.ReadFile(path)
	return out, wrap(NameReadFile, err)
}

func (t *Toolbox) WriteFile(ctx context.Context, path, content string) error {
	if t.Files == nil {
		return wrap(NameWriteFile, ErrNotConfigured)
	}
	return wrap(NameWriteFile, t.Files.WriteFile(path, content))
}

func (t *Toolbox) WebSearch(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if t.Search == nil {
		return nil, wrap(NameWebSearch, ErrNotConfigured)
	}
	out, err := t.Search.Search(ctx, query, maxResults)
	return out, wrap(NameWebSearch, err)
}

func (t *Toolbox) RunShell(ctx context.Context, command string) (ExecResult, error) {
	if t.Executor == nil {
		return ExecResult{}, wrap(NameRunShell, ErrNotConfigured)
	}
	res, err := t.Executor.RunShell(ctx, command)
	return res, wrap(NameRunShell, err)
}
