package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrExecTimeout is returned when a process exceeds its time limit.
var ErrExecTimeout = errors.New("execution timed out")

// DefaultExecTimeout bounds code and shell execution.
const DefaultExecTimeout = 30 * time.Second

// Executor runs code and shell commands inside a workspace directory.
type Executor struct {
	Dir     string
	Timeout time.Duration
	// Interpreters maps a language to its command; missing entries use defaults.
	Interpreters map[string][]string
	Shell        []string
}

var defaultInterpreters = map[string][]string{
	"python":     {"python3"},
	"bash":       {"bash"},
	"javascript": {"node"},
	"go":         {"go", "run"},
}

var languageExtensions = map[string]string{
	"python":     ".py",
	"bash":       ".sh",
	"javascript": ".js",
	"go":         ".go",
}

// NormalizeLanguage folds aliases such as "py" and "js".
func NormalizeLanguage(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "py", "python3", "python":
		return "python"
	case "js", "node", "javascript":
		return "javascript"
	case "sh", "shell", "bash":
		return "bash"
	case "go", "golang":
		return "go"
	default:
		return strings.ToLower(strings.TrimSpace(language))
	}
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultExecTimeout
}

// ExecuteCode writes code to a temporary file in the workspace and runs it.
// A non-zero exit code is reported in the result, not as an error.
func (e *Executor) ExecuteCode(ctx context.Context, language, code string) (ExecResult, error) {
	lang := NormalizeLanguage(language)
	argv, ok := e.Interpreters[lang]
	if !ok {
		argv, ok = defaultInterpreters[lang]
	}
	if !ok {
		return ExecResult{}, fmt.Errorf("language %q not supported", language)
	}

	dir := e.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if lang == "go" {
		// go run wants its own directory so stray files do not join the package.
		tmp, err := os.MkdirTemp(dir, ".exec-go-*")
		if err != nil {
			return ExecResult{}, err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	file, err := os.CreateTemp(dir, ".exec-*"+languageExtensions[lang])
	if err != nil {
		return ExecResult{}, fmt.Errorf("create source file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(code); err != nil {
		file.Close()
		return ExecResult{}, fmt.Errorf("write source file: %w", err)
	}
	if err := file.Close(); err != nil {
		return ExecResult{}, err
	}

	source, err := filepath.Abs(file.Name())
	if err != nil {
		return ExecResult{}, err
	}
	args := append(append([]string(nil), argv[1:]...), source)
	return e.run(ctx, e.Dir, argv[0], args...)
}

// RunShell runs command through the shell with the workspace as working directory.
func (e *Executor) RunShell(ctx context.Context, command string) (ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return ExecResult{}, errors.New("empty command")
	}
	shell := e.Shell
	if len(shell) == 0 {
		shell = []string{"sh", "-c"}
	}
	args := append(append([]string(nil), shell[1:]...), command)
	return e.run(ctx, e.Dir, shell[0], args...)
}

func (e *Executor) run(ctx context.Context, dir, name string, args ...string) (ExecResult, error) {
	limit := e.timeout()
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	isolateProcessGroup(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = -1
		return res, fmt.Errorf("%w after %s", ErrExecTimeout, limit)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("start %s: %w", name, err)
	}
	return res, nil
}
