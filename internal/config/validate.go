package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ensemble/internal/aggregate"
	"ensemble/internal/id"
	"ensemble/internal/task"
)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	positive("task.timeout", c.Task.Timeout)
	positive("worker.poll_interval", c.Worker.PollInterval)
	positive("worker.attempt_budget", c.Worker.AttemptBudget)
	positive("worker.result_grace", c.Worker.ResultGrace)
	positive("supervisor.poll_interval", c.Supervisor.PollInterval)
	positive("supervisor.fetch_timeout", c.Supervisor.FetchTimeout)
	positive("exec.timeout", c.Exec.Timeout)
	if c.Search.Enabled {
		positive("search.timeout", c.Search.Timeout)
	}

	if len(c.Workers) == 0 {
		errs = append(errs, errors.New("workers must not be empty"))
	}
	for _, w := range c.Workers {
		if err := task.ValidateID(w); err != nil {
			errs = append(errs, fmt.Errorf("workers: %w", err))
		}
	}

	switch strings.ToLower(c.Broker.Kind) {
	case "", "redis":
		if strings.TrimSpace(c.Broker.Addr) == "" {
			errs = append(errs, errors.New("broker.addr is required for redis"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown broker.kind %q", c.Broker.Kind))
	}

	switch strings.ToLower(c.Aggregation.Policy) {
	case aggregate.PolicyConfidence, aggregate.PolicyConsensus, aggregate.PolicyMerge:
	default:
		errs = append(errs, fmt.Errorf("unknown aggregation.policy %q", c.Aggregation.Policy))
	}

	if _, err := id.ParseStrategy(c.Task.IDStrategy); err != nil {
		errs = append(errs, fmt.Errorf("task.id_strategy: %w", err))
	}
	switch c.Observability.Tracing.Exporter {
	case "", "otlp", "zipkin":
	default:
		errs = append(errs, fmt.Errorf("unknown observability.tracing.exporter %q", c.Observability.Tracing.Exporter))
	}
	if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("observability.tracing.sample_rate must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// ValidateModel checks the settings a worker needs to call the model.
func (c Config) ValidateModel() error {
	var errs []error
	if strings.TrimSpace(c.Model.Endpoint) == "" {
		errs = append(errs, errors.New("model.endpoint is required (ENSEMBLE_MODEL_ENDPOINT or CHUTES_API_URL)"))
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		errs = append(errs, errors.New("model.name is required (ENSEMBLE_MODEL_NAME or MODEL_NAME)"))
	}
	return errors.Join(errs...)
}
