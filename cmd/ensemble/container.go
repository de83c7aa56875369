package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ensemble/internal/aggregate"
	"ensemble/internal/attempt"
	"ensemble/internal/broker"
	"ensemble/internal/capability"
	"ensemble/internal/config"
	"ensemble/internal/dispatch"
	"ensemble/internal/id"
	"ensemble/internal/logging"
	"ensemble/internal/observability"
	"ensemble/internal/orchestrator"
	"ensemble/internal/supervisor"
	"ensemble/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 5 * time.Second

// Container owns the process-wide collaborators shared by every command.
type Container struct {
	Config   config.Config
	Broker   broker.Broker
	Registry *prometheus.Registry
	Tracing  *observability.TracerProvider
	Metrics  *observability.MetricsServer
	Logger   logging.Logger

	model capability.Model
}

// buildContainer loads configuration and connects the broker. Callers must
// Close the container.
func buildContainer(ctx context.Context, opts *rootOptions, override func(*config.Config)) (*Container, error) {
	cfg, err := config.Load(config.Options{ConfigFile: opts.configFile, EnvFile: opts.envFile})
	if err != nil {
		return nil, err
	}
	if opts.broker != "" {
		cfg.Broker.Kind = opts.broker
	}
	if opts.debug {
		cfg.Observability.Logging.Level = "debug"
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Configure(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	c := &Container{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Logger:   logging.NewComponentLogger("cli"),
	}
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c.Tracing, err = observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if addr := strings.TrimSpace(cfg.Observability.Metrics.Addr); addr != "" {
		c.Metrics, err = observability.StartMetricsServer(addr, c.Registry, logging.Root())
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Logger.Info("metrics listening on %s", c.Metrics.Addr())
	}

	c.Broker, err = broker.New(ctx, cfg.Broker)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the broker and flushes telemetry.
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if c.Broker != nil {
		errs = append(errs, c.Broker.Close())
	}
	if c.Metrics != nil {
		errs = append(errs, c.Metrics.Shutdown(ctx))
	}
	if c.Tracing != nil {
		errs = append(errs, c.Tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Model returns the shared chat client, building it on first use.
func (c *Container) Model() (capability.Model, error) {
	if c.model != nil {
		return c.model, nil
	}
	if err := c.Config.ValidateModel(); err != nil {
		return nil, err
	}
	client, err := capability.NewChatClient(c.Config.Model, logging.NewComponentLogger("model"))
	if err != nil {
		return nil, err
	}
	c.model = client
	return client, nil
}

// NewWorkers builds one worker per id, sharing the model client, search
// cache and metrics.
func (c *Container) NewWorkers(ids []string) ([]*worker.Worker, error) {
	if len(ids) == 0 {
		return nil, dispatch.ErrNoWorkersConfigured
	}
	model, err := c.Model()
	if err != nil {
		return nil, err
	}
	var searcher capability.Searcher
	if c.Config.Search.Enabled {
		opts := []capability.DuckDuckGoOption{
			capability.WithHTTPClient(&http.Client{Timeout: c.Config.Search.Timeout}),
		}
		if !c.Config.Search.HTMLFallback {
			opts = append(opts, capability.WithoutHTMLFallback())
		}
		searcher = capability.NewDuckDuckGo(opts...)
	}
	spaces := capability.NewWorkspaces(c.Config.Exec.WorkspaceRoot)
	execTimeout := c.Config.Exec.Timeout
	caps := func(ws *capability.Workspace) capability.Set {
		return &capability.Toolbox{
			Model:    model,
			Executor: &capability.Executor{Dir: ws.Dir, Timeout: execTimeout},
			Files:    ws,
			Search:   searcher,
		}
	}
	metrics := worker.MustNewMetrics(c.Registry)

	workers := make([]*worker.Worker, 0, len(ids))
	for _, wid := range ids {
		logger := logging.ForWorker(wid)
		solver := attempt.NewSolver(logger)
		solver.Research = c.Config.Search.Enabled
		if c.Config.Search.MaxResults > 0 {
			solver.MaxResults = c.Config.Search.MaxResults
		}
		w, err := worker.New(wid, c.Broker, solver, spaces, caps, c.Config.Worker,
			worker.WithLogger(logger),
			worker.WithMetrics(metrics),
			worker.WithTracer(c.Tracing.Tracer()),
		)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// NewOrchestrator wires dispatch, supervision and aggregation for workers.
func (c *Container) NewOrchestrator(workers []string) (*orchestrator.Orchestrator, error) {
	strategy, err := id.ParseStrategy(c.Config.Task.IDStrategy)
	if err != nil {
		return nil, err
	}

	var merger aggregate.Merger
	if strings.EqualFold(c.Config.Aggregation.Policy, aggregate.PolicyMerge) {
		model, err := c.Model()
		if err != nil {
			return nil, fmt.Errorf("merge policy: %w", err)
		}
		merger = aggregate.ModelMerger{Model: model}
	}
	policy, err := aggregate.PolicyByName(c.Config.Aggregation.Policy, merger)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Dependencies{
		Dispatcher: dispatch.New(c.Broker, workers,
			dispatch.WithIDGenerator(id.NewGenerator(strategy)),
			dispatch.WithLogger(logging.NewComponentLogger("dispatch")),
		),
		Supervisor: supervisor.New(c.Broker, c.Config.Supervisor,
			supervisor.WithLogger(logging.NewComponentLogger("supervisor")),
		),
		Aggregator: aggregate.New(policy,
			aggregate.WithLogger(logging.NewComponentLogger("aggregate")),
		),
		TaskTimeout: c.Config.Task.Timeout,
		Metrics:     orchestrator.MustNewMetrics(c.Registry),
		Tracer:      c.Tracing.Tracer(),
		Logger:      logging.NewComponentLogger("orchestrator"),
	})
}
