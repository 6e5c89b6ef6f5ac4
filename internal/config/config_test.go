package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SIGNING_SECRET", secret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.AppPort)
	assert.Equal(t, "confirmation_requests", cfg.DynamoTables.Confirmations)
	assert.Equal(t, 5, cfg.Stream.BatchSize)
	assert.Equal(t, 10, cfg.Stream.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.DefaultTTL)
	assert.Equal(t, "smtp", cfg.Mailer.Kind)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ShortSecret(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "too-short")
	_, err := Load()
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_ResendRequiresAPIKey(t *testing.T) {
	t.Setenv("SIGNING_SECRET", secret)
	t.Setenv("MAILER", "resend")
	_, err := Load()
	assert.ErrorContains(t, err, "ResendAPIKey")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SIGNING_SECRET", secret)
	t.Setenv("STREAM_BATCH_SIZE", "25")
	t.Setenv("STREAM_RETRY_DELAY", "1s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("APP_ENV", "local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Stream.BatchSize)
	assert.Equal(t, time.Second, cfg.Stream.RetryDelay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.True(t, cfg.IsLocal())
}
