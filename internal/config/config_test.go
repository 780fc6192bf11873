package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("SERVICE_ENVIRONMENT", "test")
	t.Setenv("SQS_QUEUE_URL", "http://localhost:9324/queue/events")
	t.Setenv("SQS_REGION", "eu-central-1")
	t.Setenv("CLICKHOUSE_HOST", "localhost")
	t.Setenv("CLICKHOUSE_PORT", "9000")
	t.Setenv("CLICKHOUSE_DB", "analytics")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/leads?sslmode=disable")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Service.Environment)
	assert.Equal(t, "redis", cfg.Counter.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Counter.TTL)
	assert.Equal(t, 1000, cfg.Reconcile.PageSize)
	assert.Equal(t, 100, cfg.Reconcile.MaxPages)
	assert.Equal(t, 5, cfg.Lead.MaxWriteAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Lead.RetryBackoff)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoad_InvalidPaging(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RECONCILE_PAGE_SIZE", "0")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoad_UnsupportedCounterBackend(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("COUNTER_BACKEND", "memcached")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported counter backend")
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("COUNTER_BACKEND", "memory")
	t.Setenv("COUNTER_TTL", "48h")
	t.Setenv("RECONCILE_MAX_PAGES", "3")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Counter.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Counter.TTL)
	assert.Equal(t, 3, cfg.Reconcile.MaxPages)
}
