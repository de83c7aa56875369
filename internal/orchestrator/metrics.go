package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	stageDuration  *prometheus.HistogramVec
	stageFailures  *prometheus.CounterVec
	workerOutcomes *prometheus.CounterVec
	solutions      *prometheus.CounterVec
	tasksActive    prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once so several
// orchestrators in one process share them.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Tests should pass a fresh registry. Registration errors other than an
// identical collector already being present panic, which surfaces
// configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ensemble",
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Duration spent in each orchestrator stage.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "status"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ensemble",
			Subsystem: "orchestrator",
			Name:      "stage_failures_total",
			Help:      "Total number of stage executions that failed.",
		},
		[]string{"stage", "reason"},
	)
	workerOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ensemble",
			Subsystem: "orchestrator",
			Name:      "worker_outcomes_total",
			Help:      "Result set entries by worker and status.",
		},
		[]string{"worker", "status"},
	)
	solutions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ensemble",
			Subsystem: "orchestrator",
			Name:      "solutions_total",
			Help:      "Final solutions by synthesis method.",
		},
		[]string{"method"},
	)
	tasksActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ensemble",
			Subsystem: "orchestrator",
			Name:      "tasks_active",
			Help:      "Number of tasks currently being solved.",
		},
	)

	collectors := []prometheus.Collector{stageDuration, stageFailures, workerOutcomes, solutions, tasksActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				// Reuse the existing collector when it matches the expected type.
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					stageDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case stageFailures:
						stageFailures = already.ExistingCollector.(*prometheus.CounterVec)
					case workerOutcomes:
						workerOutcomes = already.ExistingCollector.(*prometheus.CounterVec)
					case solutions:
						solutions = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					tasksActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		stageDuration:  stageDuration,
		stageFailures:  stageFailures,
		workerOutcomes: workerOutcomes,
		solutions:      solutions,
		tasksActive:    tasksActive,
	}
}

// ObserveStageDuration records the time spent in a stage with the provided status label.
func (m *Metrics) ObserveStageDuration(stage string, status string, duration time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// IncStageFailure increments the failure counter for the given stage and reason.
func (m *Metrics) IncStageFailure(stage string, reason string) {
	if m == nil || m.stageFailures == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

// IncWorkerOutcome counts one result set entry.
func (m *Metrics) IncWorkerOutcome(worker string, status string) {
	if m == nil || m.workerOutcomes == nil {
		return
	}
	m.workerOutcomes.WithLabelValues(worker, status).Inc()
}

// IncSolution counts one final solution.
func (m *Metrics) IncSolution(method string) {
	if m == nil || m.solutions == nil {
		return
	}
	m.solutions.WithLabelValues(method).Inc()
}

// IncActiveTasks marks a task as in flight.
func (m *Metrics) IncActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Inc()
}

// DecActiveTasks marks a task as finished or abandoned.
func (m *Metrics) DecActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Dec()
}
