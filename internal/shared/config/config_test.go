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

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, TierAllotment{Daily: 20, Monthly: 1000}, cfg.Credits.Tiers["pro"])
	assert.Equal(t, 5*time.Second, cfg.Credits.StorageTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Window)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Cooldown)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
}

func TestLoadFrom_File(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
credits:
  timezone: Europe/Berlin
  tiers:
    pro:
      daily: 25
      monthly: 1200
scheduler:
  cooldown: 5m
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 25, cfg.Credits.Tiers["pro"].Daily)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Cooldown)

	loc, err := cfg.Credits.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("ICONFORGE_SCHEDULER_MAX_ATTEMPTS", "5")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("CRON_SECRET", "cron-env")
	t.Setenv("ICONFORGE_JWT_SECRET", "jwt-env")

	cfg, err := LoadFrom(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, "whsec_env", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "cron-env", cfg.Scheduler.CronSecret)
	assert.Equal(t, "jwt-env", cfg.Auth.JWTSecret)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"bad timezone", "credits:\n  timezone: Mars/Olympus\n"},
		{"zero allotment", "credits:\n  tiers:\n    free:\n      daily: 0\n"},
		{"zero attempts", "scheduler:\n  max_attempts: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFrom_MissingExplicitFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
