// Package report writes a finished collaboration to disk: the task, every
// worker's result, the final solution and the files workers produced.
package report

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ensemble/internal/orchestrator"
	"ensemble/internal/task"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// File names inside a report directory.
const (
	JSONFile     = "report.json"
	YAMLFile     = "report.yaml"
	SolutionFile = "solution.txt"
	ArtifactsDir = "artifacts"
)

// Report is the serialised form of one orchestrated task.
type Report struct {
	Task      task.Task           `json:"task" yaml:"task"`
	Solution  task.FinalSolution  `json:"solution" yaml:"solution"`
	Workers   []WorkerEntry       `json:"workers" yaml:"workers"`
	Counts    map[task.Status]int `json:"counts" yaml:"counts"`
	Duration  string              `json:"duration" yaml:"duration"`
	Generated time.Time           `json:"generated_at" yaml:"generated_at"`
}

// WorkerEntry summarises one assigned worker. Artifacts lists file paths
// relative to the report directory.
type WorkerEntry struct {
	WorkerID    string      `json:"worker_id" yaml:"worker_id"`
	Status      task.Status `json:"status" yaml:"status"`
	Confidence  float64     `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Error       string      `json:"error,omitempty" yaml:"error,omitempty"`
	Payload     string      `json:"payload,omitempty" yaml:"payload,omitempty"`
	Artifacts   []string    `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Writer persists reports onto a filesystem.
type Writer struct {
	fs  afero.Fs
	now func() time.Time
}

// NewWriter writes to the OS filesystem.
func NewWriter() *Writer {
	return NewWriterFs(afero.NewOsFs())
}

// NewWriterFs writes to fs.
func NewWriterFs(fs afero.Fs) *Writer {
	return &Writer{fs: fs, now: time.Now}
}

// Build converts an outcome into a Report. Workers that never answered are
// listed with an empty status.
func Build(out orchestrator.Outcome, generated time.Time) Report {
	r := Report{
		Task:      out.Task,
		Solution:  out.Solution,
		Duration:  out.Duration.Round(time.Millisecond).String(),
		Generated: generated.UTC(),
		Counts:    map[task.Status]int{},
	}
	if out.Results != nil {
		r.Counts = out.Results.Counts()
	}
	for _, w := range out.Task.Workers {
		entry := WorkerEntry{WorkerID: w}
		if out.Results != nil {
			if res, ok := out.Results.Results[w]; ok {
				entry.Status = res.Status
				entry.Confidence = res.Confidence
				entry.Error = res.Error
				entry.Payload = res.Payload
				completed := res.CompletedAt.UTC()
				entry.CompletedAt = &completed
				entry.Artifacts = artifactPaths(w, res.Artifacts)
			}
		}
		r.Workers = append(r.Workers, entry)
	}
	return r
}

// Write stores out under dir and returns the built report.
func (w *Writer) Write(dir string, out orchestrator.Outcome) (Report, error) {
	if strings.TrimSpace(dir) == "" {
		return Report{}, fmt.Errorf("report directory is required")
	}
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create report dir: %w", err)
	}
	rep := Build(out, w.now())

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("encode json report: %w", err)
	}
	if err := w.writeFile(filepath.Join(dir, JSONFile), data); err != nil {
		return Report{}, err
	}

	data, err = yaml.Marshal(rep)
	if err != nil {
		return Report{}, fmt.Errorf("encode yaml report: %w", err)
	}
	if err := w.writeFile(filepath.Join(dir, YAMLFile), data); err != nil {
		return Report{}, err
	}

	if out.Solution.Accepted() {
		if err := w.writeFile(filepath.Join(dir, SolutionFile), []byte(out.Solution.Payload)); err != nil {
			return Report{}, err
		}
	}

	if out.Results != nil {
		for _, res := range out.Results.Ordered() {
			for name, content := range res.Artifacts {
				rel, ok := artifactPath(res.WorkerID, name)
				if !ok {
					continue
				}
				if err := w.writeFile(filepath.Join(dir, filepath.FromSlash(rel)), []byte(content)); err != nil {
					return Report{}, err
				}
			}
		}
	}
	return rep, nil
}

func (w *Writer) writeFile(name string, data []byte) error {
	if err := w.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(name), err)
	}
	if err := afero.WriteFile(w.fs, name, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func artifactPaths(workerID string, artifacts map[string]string) []string {
	var out []string
	for name := range artifacts {
		if rel, ok := artifactPath(workerID, name); ok {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

// artifactPath maps a worker file onto artifacts/<worker>/<name>, rejecting
// names that would leave that directory.
func artifactPath(workerID, name string) (string, bool) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", false
	}
	if strings.ContainsAny(workerID, `/\`) || workerID == "" || workerID == ".." {
		return "", false
	}
	return path.Join(ArtifactsDir, workerID, clean), true
}
