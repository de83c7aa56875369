package main

import (
	"ensemble/internal/config"
	"ensemble/internal/observability"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration as YAML with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.Options{ConfigFile: root.configFile, EnvFile: root.envFile})
			if err != nil {
				return err
			}
			if root.broker != "" {
				cfg.Broker.Kind = root.broker
			}
			if cfg.Broker.Password != "" {
				cfg.Broker.Password = "***"
			}
			if cfg.Model.Token != "" {
				cfg.Model.Token = observability.SanitizeAPIKey(cfg.Model.Token)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			if err := enc.Close(); err != nil {
				return err
			}
			return cfg.Validate()
		},
	})
	return cmd
}
