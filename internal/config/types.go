// Package config resolves ensemble settings from defaults, an optional config
// file, a dotenv file and the environment.
package config

import (
	"time"

	"ensemble/internal/broker"
	"ensemble/internal/capability"
	"ensemble/internal/observability"
	"ensemble/internal/supervisor"
	"ensemble/internal/worker"
)

// Config is the fully resolved configuration shared by every command.
type Config struct {
	Broker        broker.Config          `mapstructure:"broker" yaml:"broker"`
	Workers       []string               `mapstructure:"workers" yaml:"workers"`
	Task          TaskConfig             `mapstructure:"task" yaml:"task"`
	Worker        worker.Config          `mapstructure:"worker" yaml:"worker"`
	Supervisor    supervisor.Config      `mapstructure:"supervisor" yaml:"supervisor"`
	Exec          ExecConfig             `mapstructure:"exec" yaml:"exec"`
	Model         capability.ModelConfig `mapstructure:"model" yaml:"model"`
	Search        SearchConfig           `mapstructure:"search" yaml:"search"`
	Aggregation   AggregationConfig      `mapstructure:"aggregation" yaml:"aggregation"`
	Observability observability.Config   `mapstructure:"observability" yaml:"observability"`
}

// TaskConfig controls how tasks are created.
type TaskConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	IDStrategy string        `mapstructure:"id_strategy" yaml:"id_strategy"`
}

// ExecConfig scopes code and shell execution.
type ExecConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	WorkspaceRoot string        `mapstructure:"workspace_root" yaml:"workspace_root"`
}

// SearchConfig toggles the web search capability.
type SearchConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxResults is how many hits an attempt asks for during research.
	MaxResults   int           `mapstructure:"max_results" yaml:"max_results"`
	HTMLFallback bool          `mapstructure:"html_fallback" yaml:"html_fallback"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AggregationConfig selects the synthesis policy.
type AggregationConfig struct {
	Policy string `mapstructure:"policy" yaml:"policy"` // confidence, consensus, merge
}

// DefaultWorkers are the four agents of a standard deployment.
var DefaultWorkers = []string{"agent_a", "agent_b", "agent_c", "agent_d"}

// Defaults returns the built-in configuration.
func Defaults() Config {
	obs := observability.DefaultConfig()
	obs.Metrics.Addr = ""
	return Config{
		Broker: broker.Config{
			Kind:        "redis",
			Addr:        "localhost:6379",
			DialTimeout: 5 * time.Second,
		},
		Workers: append([]string(nil), DefaultWorkers...),
		Task: TaskConfig{
			Timeout:    5 * time.Minute,
			IDStrategy: "ksuid",
		},
		Worker: worker.Config{
			PollInterval:  time.Second,
			AttemptBudget: 10 * time.Minute,
			ResultGrace:   time.Hour,
			ArtifactLimit: 256 << 10,
		},
		Supervisor: supervisor.Config{
			PollInterval: 500 * time.Millisecond,
			FetchTimeout: 2 * time.Second,
			Concurrency:  16,
		},
		Exec: ExecConfig{
			Timeout:       capability.DefaultExecTimeout,
			WorkspaceRoot: "workspaces",
		},
		Model: capability.ModelConfig{
			Temperature: 0.7,
			MaxTokens:   8192,
			Timeout:     120 * time.Second,
		},
		Search: SearchConfig{
			Enabled:      true,
			MaxResults:   3,
			HTMLFallback: true,
			Timeout:      10 * time.Second,
		},
		Aggregation: AggregationConfig{
			Policy: "confidence",
		},
		Observability: obs,
	}
}
