package main

import (
	"fmt"
	"strings"

	"ensemble/internal/config"
	"ensemble/internal/task"
	"ensemble/internal/worker"

	"github.com/spf13/cobra"
)

func newWorkerCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker <id>",
		Short: "Run one worker loop until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if err := task.ValidateID(id); err != nil {
				return fmt.Errorf("worker id: %w", err)
			}
			c, err := buildContainer(cmd.Context(), root, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			workers, err := c.NewWorkers([]string{id})
			if err != nil {
				return err
			}
			c.Logger.Info("worker %s polling %s broker", id, c.Config.Broker.Kind)
			return workers[0].Run(cmd.Context())
		},
	}
}

func newWorkersCommand(root *rootOptions) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Run every configured worker in this process until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(cmd.Context(), root, func(cfg *config.Config) {
				if len(ids) > 0 {
					cfg.Workers = ids
				}
			})
			if err != nil {
				return err
			}
			defer c.Close()

			workers, err := c.NewWorkers(c.Config.Workers)
			if err != nil {
				return err
			}
			worker.RunAll(cmd.Context(), workers, c.Logger)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ids, "workers", nil, "Worker ids to run (default workers)")
	return cmd
}
