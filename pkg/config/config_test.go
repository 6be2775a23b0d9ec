package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizuhara/suiro/pkg/logger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suiro.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "local", cfg.Logs.Backend)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.PipelineCacheTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: dynamodb
  dynamodb:
    region: us-east-1
    session_table: suiro-sessions
    checkpoint_table: suiro-checkpoints
logs:
  backend: s3
  s3:
    bucket: suiro-run-logs
    prefix: logs
retry:
  max_attempts: 5
  base_delay: 2s
sessions:
  pipeline_cache_ttl: 1m
executor:
  region: us-east-1
  ecs:
    cluster: pipelines
    container_name: worker
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dynamodb", cfg.Store.Backend)
	require.NotNil(t, cfg.Store.DynamoDB)
	assert.Equal(t, "suiro-sessions", cfg.Store.DynamoDB.SessionTable)
	assert.Equal(t, "suiro-run-logs", cfg.Logs.S3.Bucket)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Sessions.PipelineCacheTTL)
	assert.Equal(t, "pipelines", cfg.Executor.ECS.Cluster)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: warn
retry:
  max_attempts: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	// Everything the file omits stays at its default.
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUIRO_STORE_BACKEND", "dynamodb")
	t.Setenv("SUIRO_DYNAMODB_ENDPOINT", "http://localhost:8000")
	t.Setenv("SUIRO_REGION", "eu-west-1")
	t.Setenv("SUIRO_LOG_LEVEL", "error")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dynamodb", cfg.Store.Backend)
	require.NotNil(t, cfg.Store.DynamoDB)
	assert.Equal(t, "http://localhost:8000", cfg.Store.DynamoDB.Endpoint)
	assert.Equal(t, "eu-west-1", cfg.Store.DynamoDB.Region)
	assert.Equal(t, "eu-west-1", cfg.Executor.Region)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown store backend", "store:\n  backend: etcd\n"},
		{"dynamodb without section", "store:\n  backend: dynamodb\n"},
		{"s3 logs without bucket", "logs:\n  backend: s3\n"},
		{"unknown logs backend", "logs:\n  backend: kinesis\n"},
		{"zero retry attempts", "retry:\n  max_attempts: 0\n"},
		{"bad duration", "retry:\n  base_delay: soon\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	mgrCfg := cfg.SessionManagerConfig()
	assert.Equal(t, cfg.Retry, mgrCfg.Retry)
	assert.Equal(t, cfg.Sessions.PipelineCacheSize, mgrCfg.PipelineCacheSize)
	assert.Equal(t, cfg.Sessions.PipelineCacheTTL, mgrCfg.PipelineCacheTTL)

	logCfg := cfg.LoggerConfig()
	assert.Equal(t, logger.DEBUG, logCfg.Level)
	assert.Equal(t, "json", logCfg.Format)
}
