package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/visiarch/visiarch-api/internal/config"
)

// setRequiredEnv sets the minimum environment needed for Load to pass
// validation. t.Setenv also restores the previous values on cleanup.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VISIARCH_KLING_ACCESS_KEY", "test-access-key")
	t.Setenv("VISIARCH_KLING_SECRET_KEY", "test-secret-key-0123456789")
	t.Setenv("VISIARCH_FAL_API_KEY", "test-fal-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	assert.Equal(t, "https://api.klingai.com", cfg.Kling.BaseURL)
	assert.Equal(t, 30, cfg.Kling.TokenLifetimeMinutes)
	assert.Equal(t, 5, cfg.Kling.TokenRefreshBufferMinutes)

	assert.Equal(t, "https://queue.fal.run", cfg.Fal.BaseURL)
	assert.Empty(t, cfg.Fal.PriorityKey)

	assert.Equal(t, 2000, cfg.Queue.TickIntervalMs)
	assert.Equal(t, 5, cfg.Queue.MaxConcurrentChecks)
	assert.Equal(t, 10, cfg.Queue.MaxConsecutiveErrors)
	assert.Equal(t, 30, cfg.Queue.SuccessVisibilitySeconds)
	assert.Equal(t, 5, cfg.Queue.FailureVisibilitySeconds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VISIARCH_SERVER_PORT", "9999")
	t.Setenv("VISIARCH_SERVER_LOG_LEVEL", "debug")
	t.Setenv("VISIARCH_QUEUE_TICK_INTERVAL_MS", "250")
	t.Setenv("VISIARCH_FAL_PRIORITY_KEY", "priority-credential")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 250, cfg.Queue.TickIntervalMs)
	assert.Equal(t, "priority-credential", cfg.Fal.PriorityKey)
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("VISIARCH_KLING_ACCESS_KEY", "")
	t.Setenv("VISIARCH_KLING_SECRET_KEY", "")
	t.Setenv("VISIARCH_FAL_API_KEY", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VISIARCH_SERVER_LOG_LEVEL", "verbose")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_ShortSecretKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VISIARCH_KLING_SECRET_KEY", "too-short")

	_, err := config.Load()
	require.Error(t, err)
}
