package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORAGE_DRIVER", "LEDGER_DRIVER", "LOCK_TIMEOUT", "RETRY_ATTEMPTS", "DEFAULT_LIST_WINDOW", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StorageDriver)
	assert.Equal(t, DriverPostgres, cfg.LedgerDriver)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 7*24*time.Hour, cfg.DefaultListWindow)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("STORAGE_DRIVER", DriverMemory)
	t.Setenv("LEDGER_DRIVER", DriverRedis)
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, DriverMemory, cfg.StorageDriver)
	assert.Equal(t, DriverRedis, cfg.LedgerDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "soon")
	t.Setenv("RETRY_ATTEMPTS", "many")

	cfg := Load()

	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
}
