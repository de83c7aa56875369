package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ensemble/internal/aggregate"
	"ensemble/internal/attempt"
	"ensemble/internal/broker"
	"ensemble/internal/capability"
	"ensemble/internal/dispatch"
	"ensemble/internal/observability"
	"ensemble/internal/supervisor"
	"ensemble/internal/task"
	"ensemble/internal/worker"
)

type scripted map[string]func() (attempt.Outcome, error)

func (s scripted) Run(_ context.Context, a task.Assignment, _ capability.Set) (attempt.Outcome, error) {
	return s[a.WorkerID]()
}

type harness struct {
	broker  *broker.MemoryBroker
	orch    *Orchestrator
	metrics *Metrics
	spans   *tracetest.SpanRecorder
}

// newHarness configures workers for dispatch but only runs those with a script.
func newHarness(t *testing.T, workers []string, runner scripted, timeout time.Duration) *harness {
	t.Helper()
	b := broker.NewMemoryBroker()
	metrics := MustNewMetrics(prometheus.NewRegistry())
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orch, err := New(Dependencies{
		Dispatcher:  dispatch.New(b, workers),
		Supervisor:  supervisor.New(b, supervisor.Config{PollInterval: 10 * time.Millisecond}),
		Aggregator:  aggregate.New(aggregate.ConfidencePolicy{}),
		TaskTimeout: timeout,
		Metrics:     metrics,
		Tracer:      tp.Tracer("test"),
	})
	require.NoError(t, err)

	if runner != nil {
		spaces := capability.NewWorkspaces(t.TempDir())
		var pool []*worker.Worker
		for _, id := range workers {
			if _, ok := runner[id]; !ok {
				continue
			}
			w, err := worker.New(id, b, runner, spaces, func(ws *capability.Workspace) capability.Set {
				return &capability.Toolbox{Files: ws}
			}, worker.Config{PollInterval: 10 * time.Millisecond})
			require.NoError(t, err)
			pool = append(pool, w)
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			worker.RunAll(ctx, pool, nil)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}
	return &harness{broker: b, orch: orch, metrics: metrics, spans: spans}
}

func TestSolveEndToEnd(t *testing.T) {
	runner := scripted{
		"agent_a": func() (attempt.Outcome, error) { return attempt.Outcome{Payload: "A", Confidence: 0.6}, nil },
		"agent_b": func() (attempt.Outcome, error) { return attempt.Outcome{Payload: "B", Confidence: 0.9}, nil },
		"agent_c": func() (attempt.Outcome, error) { return attempt.Outcome{}, errors.New("execute_code failed") },
	}
	h := newHarness(t, []string{"agent_a", "agent_b", "agent_c"}, runner, 5*time.Second)

	start := time.Now()
	out, err := h.orch.Solve(context.Background(), "pick a letter")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, task.MethodSingleBest, out.Solution.Method)
	assert.Equal(t, "B", out.Solution.Payload)
	assert.Equal(t, []string{"agent_b"}, out.Solution.Contributors)
	assert.Equal(t, map[task.Status]int{task.StatusSucceeded: 2, task.StatusFailed: 1}, out.Results.Counts())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.workerOutcomes.WithLabelValues("agent_c", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.solutions.WithLabelValues("single-best")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.tasksActive))
	assert.Equal(t, 3, testutil.CollectAndCount(h.metrics.stageDuration))

	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{observability.SpanDispatch, observability.SpanAwait, observability.SpanSynthesize}, names)
}

func TestSolveReportsSilentWorkers(t *testing.T) {
	runner := scripted{
		"agent_a": func() (attempt.Outcome, error) { return attempt.Outcome{Payload: "A", Confidence: 0.6}, nil },
	}
	h := newHarness(t, []string{"agent_a", "agent_b"}, runner, 200*time.Millisecond)

	out, err := h.orch.Solve(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, task.StatusTimedOut, out.Results.Results["agent_b"].Status)
	assert.Equal(t, []string{"agent_a"}, out.Solution.Contributors)
	assert.Contains(t, out.Solution.Diagnostics["agent_b"], "timed_out")
}

func TestSolveNoneAvailable(t *testing.T) {
	runner := scripted{
		"agent_a": func() (attempt.Outcome, error) { return attempt.Outcome{}, errors.New("model down") },
	}
	h := newHarness(t, []string{"agent_a"}, runner, 2*time.Second)

	out, err := h.orch.Solve(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, out.Solution.Accepted())
	assert.Equal(t, "failed: model down", out.Solution.Diagnostics["agent_a"])
}

func TestSolveWithoutWorkers(t *testing.T) {
	h := newHarness(t, nil, nil, time.Second)

	_, err := h.orch.Solve(context.Background(), "p")
	require.ErrorIs(t, err, dispatch.ErrNoWorkersConfigured)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.stageFailures.WithLabelValues(StageDispatch, "no_workers")))
}

func TestSolveSurfacesBrokerOutage(t *testing.T) {
	h := newHarness(t, []string{"agent_a"}, nil, time.Second)
	h.broker.SetUnavailable(true)

	_, err := h.orch.Solve(context.Background(), "p")
	require.ErrorIs(t, err, broker.ErrUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.stageFailures.WithLabelValues(StageDispatch, "broker_unavailable")))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)
}

func TestMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)
	first.IncSolution("merged")
	assert.Equal(t, 1.0, testutil.ToFloat64(second.solutions.WithLabelValues("merged")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.IncActiveTasks() })
}
