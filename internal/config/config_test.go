package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAPIConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *APIConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 20
database:
  host: localhost
  port: 5433
  user: testuser
  password: testpass
  dbname: testdb
  sslmode: require
nats:
  url: "nats://broker:4222"
  stream_name: "TEST_EVENTS"
auth:
  jwt_public_key: "test-key"
  api_keys:
    - "svc-key-1"
    - "svc-key-2"
`,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "127.0.0.1", cfg.Server.Host)
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 20, cfg.Server.ReadTimeout)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5433, cfg.Database.Port)
				assert.Equal(t, "require", cfg.Database.SSLMode)
				assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
				assert.Equal(t, "TEST_EVENTS", cfg.NATS.StreamName)
				assert.Equal(t, "test-key", cfg.Auth.JWTPublicKey)
				assert.Equal(t, []string{"svc-key-1", "svc-key-2"}, cfg.Auth.APIKeys)
			},
		},
		{
			name: "config with defaults",
			configFile: `
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
`,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 120, cfg.Server.IdleTimeout)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, "FORM_EVENTS", cfg.NATS.StreamName)
				assert.Equal(t, 10, cfg.NATS.MaxReconnects)
				assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
				assert.Equal(t, "webhook-engine-api", cfg.NATS.ConnectionName)
			},
		},
		{
			name:        "invalid yaml",
			configFile:  "debug: [unclosed",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.configFile)
			cfg, err := LoadAPIConfig(path, t.TempDir())
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadWorkerConfig(t *testing.T) {
	t.Run("delivery defaults", func(t *testing.T) {
		path := writeConfigFile(t, `
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
`)
		cfg, err := LoadWorkerConfig(path, t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, 20, cfg.Worker.WorkerPoolSize)
		assert.Equal(t, 2048, cfg.Worker.WorkerQueueSize)
		assert.Equal(t, 15*time.Second, cfg.Delivery.Timeout)
		assert.Equal(t, 10*time.Minute, cfg.Delivery.ClaimExpiry)
		assert.Equal(t, 5*time.Second, cfg.Delivery.SweepInterval)
		assert.Equal(t, 100, cfg.Delivery.SweepBatchSize)
		assert.Equal(t, "webhook-engine-worker", cfg.NATS.ConsumerName)
	})

	t.Run("explicit delivery settings", func(t *testing.T) {
		path := writeConfigFile(t, `
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
delivery:
  timeout: "30s"
  claim_expiry: "5m"
  sweep_interval: "2s"
  sweep_batch_size: 50
worker:
  pool_size: 4
  queue_size: 64
`)
		cfg, err := LoadWorkerConfig(path, t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, cfg.Delivery.Timeout)
		assert.Equal(t, 5*time.Minute, cfg.Delivery.ClaimExpiry)
		assert.Equal(t, 2*time.Second, cfg.Delivery.SweepInterval)
		assert.Equal(t, 50, cfg.Delivery.SweepBatchSize)
		assert.Equal(t, 4, cfg.Worker.WorkerPoolSize)
	})
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "engine",
		Password: "secret",
		DBName:   "webhooks",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5432 user=engine password=secret dbname=webhooks sslmode=require",
		cfg.DSN())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("WEBHOOK_ENGINE_DATABASE_HOST", "env-db-host")
	t.Setenv("WEBHOOK_ENGINE_DELIVERY_SWEEP_BATCH_SIZE", "7")

	path := writeConfigFile(t, `
database:
  host: file-db-host
  user: testuser
  password: testpass
  dbname: testdb
`)
	cfg, err := LoadWorkerConfig(path, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "env-db-host", cfg.Database.Host)
	assert.Equal(t, 7, cfg.Delivery.SweepBatchSize)
}
