package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets variables the loader reads so the host environment does not
// leak into assertions. t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"REDIS_ADDR", "REDIS_PASSWORD", "CHUTES_API_URL", "CHUTES_API_TOKEN", "MODEL_NAME",
		"ENSEMBLE_BROKER_ADDR", "ENSEMBLE_BROKER_PASSWORD", "ENSEMBLE_MODEL_ENDPOINT",
		"ENSEMBLE_MODEL_TOKEN", "ENSEMBLE_MODEL_NAME", "ENSEMBLE_WORKERS", "ENSEMBLE_TASK_TIMEOUT",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, "redis", cfg.Broker.Kind)
	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Task.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.PollInterval)
	assert.Equal(t, "confidence", cfg.Aggregation.Policy)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFileAndEnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ensemble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker:
  kind: memory
workers: [agent_x, agent_y]
task:
  timeout: 90s
supervisor:
  poll_interval: 250ms
aggregation:
  policy: consensus
`), 0o644))
	t.Setenv("ENSEMBLE_TASK_TIMEOUT", "2m")

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Broker.Kind)
	assert.Equal(t, []string{"agent_x", "agent_y"}, cfg.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Task.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.PollInterval)
	assert.Equal(t, "consensus", cfg.Aggregation.Policy)
}

func TestLoadEnvAliases(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("CHUTES_API_URL", "https://llm.example/v1/chat/completions")
	t.Setenv("CHUTES_API_TOKEN", "tok")
	t.Setenv("MODEL_NAME", "model-a")
	t.Setenv("ENSEMBLE_MODEL_NAME", "model-b")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Broker.Password)
	assert.Equal(t, "https://llm.example/v1/chat/completions", cfg.Model.Endpoint)
	assert.Equal(t, "tok", cfg.Model.Token)
	assert.Equal(t, "model-b", cfg.Model.Name, "prefixed name wins over alias")
	assert.NoError(t, cfg.ValidateModel())
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("MODEL_NAME=from-file\nREDIS_PASSWORD=file-pass\n"), 0o600))
	t.Setenv("MODEL_NAME", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("REDIS_PASSWORD") })

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Model.Name)
	assert.Equal(t, "file-pass", cfg.Broker.Password)
}

func TestLoadMissingExplicitFiles(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
	_, err = Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	assert.Error(t, err)
}

func TestWorkersFromCommaSeparatedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENSEMBLE_WORKERS", "agent_a, agent_c")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"agent_a", "agent_c"}, cfg.Workers)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Task.Timeout = 0
	cfg.Broker.Kind = "kafka"
	cfg.Aggregation.Policy = "vote"
	cfg.Task.IDStrategy = "serial"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"task.timeout", "broker.kind", "aggregation.policy", "task.id_strategy"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsUnsafeWorkerIDs(t *testing.T) {
	for _, ids := range [][]string{nil, {"agent_a", ".."}, {"."}, {"agent/b"}, {"agent:c"}} {
		cfg := Defaults()
		cfg.Workers = ids
		err := cfg.Validate()
		require.Error(t, err, "workers %v", ids)
		assert.Contains(t, err.Error(), "workers")
	}
}

func TestValidateModelRequiresEndpointAndName(t *testing.T) {
	err := Defaults().ValidateModel()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.endpoint")
	assert.Contains(t, err.Error(), "model.name")
}
