package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ensemble/internal/config"
	"ensemble/internal/report"
	"ensemble/internal/worker"

	"github.com/spf13/cobra"
)

type solveOptions struct {
	timeout time.Duration
	workers []string
	output  string
	policy  string
	local   bool
}

func newSolveCommand(root *rootOptions) *cobra.Command {
	opts := &solveOptions{}
	cmd := &cobra.Command{
		Use:   "solve <problem...>",
		Short: "Dispatch a problem to every worker and print the combined solution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problem := strings.TrimSpace(strings.Join(args, " "))
			if problem == "" {
				return errors.New("problem must not be empty")
			}
			return runSolve(cmd, root, opts, problem)
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&opts.timeout, "timeout", 0, "Task deadline (default task.timeout)")
	flags.StringSliceVar(&opts.workers, "workers", nil, "Worker ids to dispatch to (default workers)")
	flags.StringVarP(&opts.output, "output", "o", "", "Write a collaboration report to this directory")
	flags.StringVar(&opts.policy, "policy", "", "Aggregation policy: confidence, consensus or merge")
	flags.BoolVar(&opts.local, "local", false, "Also run the workers inside this process (implied by --broker memory)")
	return cmd
}

func runSolve(cmd *cobra.Command, root *rootOptions, opts *solveOptions, problem string) error {
	ctx := cmd.Context()
	c, err := buildContainer(ctx, root, func(cfg *config.Config) {
		if opts.timeout > 0 {
			cfg.Task.Timeout = opts.timeout
		}
		if len(opts.workers) > 0 {
			cfg.Workers = opts.workers
		}
		if opts.policy != "" {
			cfg.Aggregation.Policy = opts.policy
		}
	})
	if err != nil {
		return err
	}
	defer c.Close()

	orch, err := c.NewOrchestrator(c.Config.Workers)
	if err != nil {
		return err
	}

	local := opts.local || strings.EqualFold(c.Config.Broker.Kind, "memory")
	if local {
		workers, err := c.NewWorkers(c.Config.Workers)
		if err != nil {
			return err
		}
		workerCtx, stopWorkers := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.RunAll(workerCtx, workers, c.Logger)
		}()
		defer func() {
			stopWorkers()
			wg.Wait()
		}()
	}

	out := newPrinter(cmd.OutOrStdout())
	out.Start(problem, c.Config.Workers, c.Config.Task.Timeout)

	outcome, err := orch.Solve(ctx, problem)
	if err != nil {
		return err
	}
	out.Outcome(outcome)

	if opts.output != "" {
		if _, err := report.NewWriter().Write(opts.output, outcome); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		out.Note("report written to %s", opts.output)
	}

	if !outcome.Solution.Accepted() {
		return &ExitCodeError{Code: 1, Err: errors.New("no worker produced a solution"), Quiet: true}
	}
	return nil
}
