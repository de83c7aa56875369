package main

import (
	"io"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	envFile    string
	broker     string
	debug      bool
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ensemble",
		Short:         "Solve a problem with several independent agents and combine their answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Config file (default ./ensemble.yaml when present)")
	flags.StringVar(&opts.envFile, "env-file", "", "Dotenv file (default ./.env when present)")
	flags.StringVar(&opts.broker, "broker", "", "Broker kind override: redis or memory")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "Debug logging")

	root.AddCommand(
		newSolveCommand(opts),
		newWorkerCommand(opts),
		newWorkersCommand(opts),
		newConfigCommand(opts),
	)
	return root
}
