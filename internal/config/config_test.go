package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "PG_DSN", "STORE_DRIVER", "PROCESSED_STORE", "REDIS_URL", "BILLING_CONFIG",
		"ARCHIVE_PROVIDER", "ARCHIVE_S3_BUCKET", "ARCHIVE_S3_ACCESS_KEY_ID", "ARCHIVE_S3_SECRET_ACCESS_KEY",
		"AUTH_JWT_SECRET", "JWT_SECRET", "CYCLE_LENGTH_DAYS", "DISPATCH_MAX_ATTEMPTS", "SUBSCRIPTION_CACHE_TTL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PG_DSN", "postgres://localhost/billing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/billing", cfg.DatabaseURL)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, ProcessedPostgres, cfg.Processed.Store)
	assert.Equal(t, 30, cfg.Rollover.CycleLengthDays)
	assert.Equal(t, "5 0 * * *", cfg.Rollover.Schedule)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "BRL", cfg.Currency)
	assert.Error(t, cfg.ValidateServe())
}

func TestLoad_PostgresNeedsDSN(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MemoryDriverDropsPostgresProcessedStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProcessedNone, cfg.Processed.Store)
}

func TestLoad_RedisNeedsURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PROCESSED_STORE", "redis")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoad_S3NeedsCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ARCHIVE_PROVIDER", "s3")
	t.Setenv("ARCHIVE_S3_BUCKET", "statements")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ARCHIVE_S3_ACCESS_KEY_ID", "key")
	t.Setenv("ARCHIVE_S3_SECRET_ACCESS_KEY", "secret")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	path := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
currency: USD
rollover:
  schedule: "0 3 * * *"
  cycle_length_days: 28
subscription_cache:
  ttl: 2m
dispatch:
  max_attempts: 8
`), 0o600))
	t.Setenv("BILLING_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "0 3 * * *", cfg.Rollover.Schedule)
	assert.Equal(t, 28, cfg.Rollover.CycleLengthDays)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 8, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.NoError(t, cfg.ValidateServe())
}

func TestLoad_BadYAMLPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("BILLING_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_UnknownValues(t *testing.T) {
	cfg := Config{StoreDriver: "mysql", Processed: ProcessedConf{Store: "etcd"}, Archive: ArchiveConfig{Provider: "ftp"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
	assert.Contains(t, err.Error(), "PROCESSED_STORE")
	assert.Contains(t, err.Error(), "ARCHIVE_PROVIDER")
}
