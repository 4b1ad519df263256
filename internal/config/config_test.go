package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 2*time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.Engine.ErrorBackoff)
	assert.Equal(t, 10000, cfg.Engine.MaxConditions)
	assert.Equal(t, "paper", cfg.Executor.Kind)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "static", cfg.Quotes.Source)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: staging
engine:
  sweep_interval: 500ms
  max_conditions: 50
quotes:
  source: static
  static:
    AAPL: "150.25"
lifecycle:
  symbols: [AAPL, MSFT]
server:
  port: 9090
`)
	t.Setenv("ORDEREXEC_ENGINE_ERROR_BACKOFF", "1s")
	t.Setenv("ORDEREXEC_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.SweepInterval)
	assert.Equal(t, time.Second, cfg.Engine.ErrorBackoff)
	assert.Equal(t, 50, cfg.Engine.MaxConditions)
	assert.Equal(t, "150.25", cfg.Quotes.Static["aapl"])
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Lifecycle.Symbols)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "log:\n  level: verbose\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "engine:\n  max_conditions: 0\n"))
	assert.Error(t, err)
}

func TestValidate_CrossFieldRules(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	redisQuotes := *cfg
	redisQuotes.Quotes.Source = "redis"
	assert.Error(t, redisQuotes.Validate())
	redisQuotes.Redis.Enabled = true
	assert.NoError(t, redisQuotes.Validate())

	kafkaExec := *cfg
	kafkaExec.Executor.Kind = "kafka"
	assert.Error(t, kafkaExec.Validate())
	kafkaExec.Kafka.Enabled = true
	kafkaExec.Kafka.Brokers = []string{"localhost:9092"}
	assert.NoError(t, kafkaExec.Validate())
}
