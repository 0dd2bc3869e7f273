package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.LockTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, ":8082", cfg.HTTP.Addr)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Breaker.Enabled)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: sqlite
  sqlite_path: /tmp/ledger.db
  lock_timeout: 2s
sweep:
  interval: 1m
  run_on_start: true
kafka:
  enabled: true
  brokers: "k1:9092, k2:9092"
`), 0o600))

	t.Setenv("LEDGER_SWEEP_INTERVAL", "30s")
	t.Setenv("LEDGER_DB_PORT", "6543")
	t.Setenv("LEDGER_HTTP_ALLOWED_ORIGINS", "http://localhost:5173,https://ops.example.com")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 2*time.Second, cfg.Storage.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	assert.True(t, cfg.Sweep.RunOnStart)
	assert.Equal(t, 6543, cfg.DBConfig.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.GetKafkaBrokers())
	assert.Equal(t, "ledger_commands", cfg.Kafka.CommandsTopic)
	assert.Equal(t, []string{"http://localhost:5173", "https://ops.example.com"}, cfg.GetAllowedOrigins())
}

func TestLoadConfig_InvalidEnvKeepsFallback(t *testing.T) {
	t.Setenv("LEDGER_LOCK_TIMEOUT", "soon")
	t.Setenv("LEDGER_DB_PORT", "not-a-port")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Storage.LockTimeout)
	assert.Equal(t, 5432, cfg.DBConfig.Port)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Setenv("LEDGER_STORAGE_DRIVER", "mongo")
	t.Setenv("LEDGER_SWEEP_INTERVAL", "0s")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown storage driver")
	assert.ErrorContains(t, err, "sweep interval")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_KafkaWithoutBrokers(t *testing.T) {
	t.Setenv("LEDGER_KAFKA_ENABLED", "true")
	t.Setenv("LEDGER_KAFKA_BROKER_URL", " , ")

	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "no brokers")
}
