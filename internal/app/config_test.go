package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "https://print.example.com", cfg.Server.BaseURL)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "print.example.com", cfg.Auth.JWT.Issuer)
	require.Equal(t, 12*time.Hour, cfg.Auth.JWT.TTL)
	require.Equal(t, 10*time.Minute, cfg.Auth.CodeTTL)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, "invites@print.example.com", cfg.Email.SMTP.From)
	require.False(t, cfg.Email.SMTP.UseTLS)
	require.Equal(t, 5*time.Second, cfg.Email.SMTP.Timeout)

	require.Equal(t, 96*time.Hour, cfg.Invites.TTL)
	require.Equal(t, 30*time.Minute, cfg.Invites.ResendInterval)
	require.Equal(t, "@every 5m", cfg.Invites.SweepSchedule)
	require.Equal(t, "@hourly", cfg.Invites.PurgeSchedule)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 24*time.Hour, cfg.Auth.JWT.TTL)
	require.Equal(t, 20*time.Minute, cfg.Auth.CodeTTL)
	require.Equal(t, 7*24*time.Hour, cfg.Invites.TTL)
	require.Equal(t, time.Hour, cfg.Invites.ResendInterval)
	require.Equal(t, "@every 15m", cfg.Invites.SweepSchedule)
	require.Equal(t, "@daily", cfg.Invites.PurgeSchedule)
	require.False(t, cfg.Email.SMTP.Enabled)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PRINTBRIDGE_SERVER_PORT", "7001")
	t.Setenv("PRINTBRIDGE_INVITES_RESEND_INTERVAL", "45m")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7001, cfg.Server.Port)
	require.Equal(t, 45*time.Minute, cfg.Invites.ResendInterval)
}
