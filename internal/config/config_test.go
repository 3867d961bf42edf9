package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primoloyalty/broadcast-service/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 25, cfg.RatePerMinute)
	assert.Equal(t, 3, cfg.ChunkMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, "Asia/Vladivostok", cfg.Timezone.String())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "250")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("SEND_TIMEOUT", "5s")
	t.Setenv("BROADCAST_TIMEZONE", "UTC")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.ChunkSize)
	assert.Equal(t, 10, cfg.RatePerMinute)
	assert.Equal(t, 5*time.Second, cfg.SendTimeout)
	assert.Equal(t, time.UTC, cfg.Timezone)
}

func TestLoadRejectsRateAboveProviderCeiling(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "45")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_PER_MINUTE")
}

func TestLoadRejectsNonPositiveChunkSize(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "0")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_SIZE")
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("BROADCAST_TIMEZONE", "Mars/Olympus")

	_, err := config.Load()
	require.Error(t, err)
}
