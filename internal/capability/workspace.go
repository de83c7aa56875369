package capability

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ensemble/internal/task"

	"github.com/spf13/afero"
)

// ErrPathEscape rejects paths that leave the workspace.
var ErrPathEscape = errors.New("path must stay within the workspace")

// Workspaces hands out one fresh directory per (worker, task).
type Workspaces struct {
	fs   afero.Fs
	Root string
}

// NewWorkspaces roots workspaces under root on the OS filesystem.
func NewWorkspaces(root string) *Workspaces {
	return &Workspaces{fs: afero.NewOsFs(), Root: root}
}

// Path returns <root>/<worker>/workspace/<task>.
func (w *Workspaces) Path(workerID, taskID string) string {
	return filepath.Join(w.Root, workerID, "workspace", taskID)
}

// Prepare clears any previous content and returns the worker's workspace.
func (w *Workspaces) Prepare(workerID, taskID string) (*Workspace, error) {
	dir, err := w.dir(workerID, taskID)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	if err := w.fs.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("reset workspace %s: %w", dir, err)
	}
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return NewWorkspace(w.fs, abs), nil
}

// Release removes the workspace of a finished task.
func (w *Workspaces) Release(workerID, taskID string) error {
	dir, err := w.dir(workerID, taskID)
	if err != nil {
		return fmt.Errorf("release workspace: %w", err)
	}
	return w.fs.RemoveAll(dir)
}

// dir validates both identifiers and returns a path strictly below
// <root>/<worker>/workspace.
func (w *Workspaces) dir(workerID, taskID string) (string, error) {
	if err := task.ValidateID(workerID); err != nil {
		return "", fmt.Errorf("worker: %w", err)
	}
	if err := task.ValidateID(taskID); err != nil {
		return "", fmt.Errorf("task: %w", err)
	}
	dir := w.Path(workerID, taskID)
	base := filepath.Join(w.Root, workerID, "workspace")
	rel, err := filepath.Rel(base, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, dir)
	}
	return dir, nil
}

// Workspace is a directory owned exclusively by one attempt.
type Workspace struct {
	Dir string
	fs  afero.Fs
}

// NewWorkspace scopes base to dir.
func NewWorkspace(base afero.Fs, dir string) *Workspace {
	return &Workspace{Dir: dir, fs: afero.NewBasePathFs(base, dir)}
}

func (w *Workspace) resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if filepath.IsAbs(trimmed) {
		rel, err := filepath.Rel(w.Dir, trimmed)
		if err != nil {
			return "", ErrPathEscape
		}
		trimmed = rel
	}
	clean := filepath.Clean(trimmed)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return string(filepath.Separator) + clean, nil
}

// ReadFile returns the content of a workspace file.
func (w *Workspace) ReadFile(path string) (string, error) {
	name, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(w.fs, name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile creates parent directories as needed.
func (w *Workspace) WriteFile(path, content string) error {
	name, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := w.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	if err := afero.WriteFile(w.fs, name, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Snapshot returns every regular file up to maxBytes each, keyed by
// slash-separated relative path.
func (w *Workspace) Snapshot(maxBytes int64) (map[string]string, error) {
	files := make(map[string]string)
	err := afero.Walk(w.fs, string(filepath.Separator), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || (maxBytes > 0 && info.Size() > maxBytes) {
			return nil
		}
		data, err := afero.ReadFile(w.fs, path)
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(path), "/")
		files[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot workspace: %w", err)
	}
	return files, nil
}
