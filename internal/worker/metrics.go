package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports worker activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	dropped         *prometheus.CounterVec
	brokerErrors    *prometheus.CounterVec
}

// MustNewMetrics registers the worker collectors with reg, reusing collectors
// that are already registered so several workers can share one registry.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ensemble",
			Subsystem: "worker",
			Name:      "attempts_total",
			Help:      "Attempts finished by each worker, by published status.",
		}, []string{"worker", "status"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ensemble",
			Subsystem: "worker",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of each attempt.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"worker", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ensemble",
			Subsystem: "worker",
			Name:      "dropped_messages_total",
			Help:      "Queue messages discarded without an attempt.",
		}, []string{"worker", "reason"}),
		brokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ensemble",
			Subsystem: "worker",
			Name:      "broker_errors_total",
			Help:      "Broker operations that failed, by operation.",
		}, []string{"worker", "op"}),
	}
	m.attempts = register(reg, m.attempts)
	m.attemptDuration = register(reg, m.attemptDuration)
	m.dropped = register(reg, m.dropped)
	m.brokerErrors = register(reg, m.brokerErrors)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observeAttempt(worker, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(worker, status).Inc()
	m.attemptDuration.WithLabelValues(worker, status).Observe(d.Seconds())
}

func (m *Metrics) incDropped(worker, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(worker, reason).Inc()
}

func (m *Metrics) incBrokerError(worker, op string) {
	if m == nil {
		return
	}
	m.brokerErrors.WithLabelValues(worker, op).Inc()
}
