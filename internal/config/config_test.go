package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "")
	t.Setenv("ACCOUNTS", "")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, LedgerPostgres, cfg.Ledger.Driver)
	assert.Equal(t, 30, cfg.Lifecycle.InactiveDays)
	assert.Equal(t, 7, cfg.Lifecycle.DeleteDays)
	assert.Equal(t, "@every 5m", cfg.Schedule.Sync)
	assert.Equal(t, "iam-list-user-role-tem", cfg.AWS.AssumeRoleName)
	assert.Equal(t, 1, cfg.Workers.Accounts)
	assert.Contains(t, cfg.Database.URL, "postgres://")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", LedgerBolt)
	t.Setenv("ACCOUNTS", " 111, ,222 ")
	t.Setenv("INACTIVE_DAYS", "45")
	t.Setenv("RETRY_MIN_INTERVAL", "2")
	t.Setenv("RETRY_JITTER", "0.5")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("SERVER_ENABLED", "false")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222"}, cfg.Lifecycle.Accounts)
	assert.Equal(t, 45, cfg.Lifecycle.InactiveDays)
	assert.Equal(t, 2*time.Second, cfg.Retry.MinInterval)
	assert.Equal(t, 0.5, cfg.Retry.Jitter)
	assert.True(t, cfg.Lifecycle.DryRun)
}

func TestValidate(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("DELETE_DAYS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown LEDGER_DRIVER "sqlite"`)
	assert.Contains(t, err.Error(), "DELETE_DAYS must be positive")
}

func TestValidateRequiresSecretForHTTP(t *testing.T) {
	t.Setenv("SERVER_ENABLED", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("API_AUTH_DISABLED", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")

	t.Setenv("API_AUTH_DISABLED", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.HTTP.AuthDisabled)

	t.Setenv("API_AUTH_DISABLED", "")
	t.Setenv("SERVER_ENABLED", "false")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoadOneShotSkipsServerSettings(t *testing.T) {
	t.Setenv("SERVER_ENABLED", "true")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("API_AUTH_DISABLED", "")

	cfg, err := LoadOneShot()
	require.NoError(t, err)
	assert.False(t, cfg.HTTP.Enabled)
	assert.False(t, cfg.Schedule.Enabled)
}
