package report

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"ensemble/internal/orchestrator"
	"ensemble/internal/task"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleOutcome(t *testing.T) orchestrator.Outcome {
	t.Helper()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tk := task.Task{
		ID:        "task_1",
		Problem:   "write fizzbuzz",
		CreatedAt: created,
		Deadline:  created.Add(time.Minute),
		Workers:   []string{"agent_a", "agent_b", "agent_c"},
	}
	rs := task.NewResultSet(tk)
	require.NoError(t, rs.Record(task.AgentResult{
		WorkerID:    "agent_a",
		TaskID:      tk.ID,
		Status:      task.StatusSucceeded,
		Payload:     "fizzbuzz in python",
		Confidence:  0.8,
		Artifacts:   map[string]string{"fizz.py": "print(1)", "../escape.txt": "nope"},
		CompletedAt: created.Add(10 * time.Second),
	}))
	require.NoError(t, rs.Record(task.AgentResult{
		WorkerID:    "agent_b",
		TaskID:      tk.ID,
		Status:      task.StatusFailed,
		Error:       "model unavailable",
		CompletedAt: created.Add(5 * time.Second),
	}))
	rs.Close()
	return orchestrator.Outcome{
		Task:    tk,
		Results: rs,
		Solution: task.FinalSolution{
			TaskID:       tk.ID,
			Payload:      "fizzbuzz in python",
			Contributors: []string{"agent_a"},
			Method:       task.MethodSingleBest,
		},
		Duration: 12 * time.Second,
	}
}

func TestWriteProducesReportFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriterFs(fs)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC) }

	rep, err := w.Write("out", sampleOutcome(t))
	require.NoError(t, err)

	require.Len(t, rep.Workers, 3)
	assert.Equal(t, task.StatusSucceeded, rep.Workers[0].Status)
	assert.Equal(t, []string{"artifacts/agent_a/fizz.py"}, rep.Workers[0].Artifacts)
	assert.Equal(t, "model unavailable", rep.Workers[1].Error)
	assert.Empty(t, rep.Workers[2].Status, "silent worker has no entry")
	assert.Nil(t, rep.Workers[2].CompletedAt)
	assert.Equal(t, 1, rep.Counts[task.StatusFailed])
	assert.Equal(t, "12s", rep.Duration)

	data, err := afero.ReadFile(fs, filepath.Join("out", JSONFile))
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "task_1", decoded.Task.ID)
	assert.Equal(t, task.MethodSingleBest, decoded.Solution.Method)

	data, err = afero.ReadFile(fs, filepath.Join("out", YAMLFile))
	require.NoError(t, err)
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Contains(t, fromYAML, "solution")

	solution, err := afero.ReadFile(fs, filepath.Join("out", SolutionFile))
	require.NoError(t, err)
	assert.Equal(t, "fizzbuzz in python", string(solution))

	artifact, err := afero.ReadFile(fs, filepath.Join("out", "artifacts", "agent_a", "fizz.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(artifact))

	exists, err := afero.Exists(fs, "escape.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fs, filepath.Join("out", "artifacts", "escape.txt"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWriteSkipsSolutionFileWhenNoneAvailable(t *testing.T) {
	fs := afero.NewMemMapFs()
	out := sampleOutcome(t)
	out.Solution = task.FinalSolution{TaskID: out.Task.ID, Method: task.MethodNoneAvailable}

	_, err := NewWriterFs(fs).Write("out", out)
	require.NoError(t, err)

	exists, err := afero.Exists(fs, filepath.Join("out", SolutionFile))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWriteRequiresDirectory(t *testing.T) {
	_, err := NewWriterFs(afero.NewMemMapFs()).Write(" ", sampleOutcome(t))
	assert.Error(t, err)
}

func TestArtifactPath(t *testing.T) {
	cases := []struct {
		worker, name, want string
		ok                 bool
	}{
		{"agent_a", "main.go", "artifacts/agent_a/main.go", true},
		{"agent_a", "src/./lib.py", "artifacts/agent_a/src/lib.py", true},
		{"agent_a", `dir\file.txt`, "artifacts/agent_a/dir/file.txt", true},
		{"agent_a", "../x", "", false},
		{"agent_a", "/etc/passwd", "", false},
		{"a/b", "x", "", false},
	}
	for _, tc := range cases {
		got, ok := artifactPath(tc.worker, tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}
