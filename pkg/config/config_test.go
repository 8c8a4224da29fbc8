package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/curate")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/curate", cfg.DatabaseURL)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.SlowRepository)
	assert.Equal(t, 25, cfg.MaxConcurrentHandlers)
	assert.Equal(t, 200, cfg.EventQueueMaxSize)
	assert.Equal(t, 100, cfg.ChangeFeedPageSize)
	assert.Empty(t, cfg.BusConnectionString)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/curate")
	t.Setenv("MAX_CONCURRENT_HANDLERS", "4")
	t.Setenv("SLOW_REPOSITORY_MS", "500")
	t.Setenv("BUS_CONNECTION_STRING", "postgres://localhost/bus")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxConcurrentHandlers)
	assert.Equal(t, 500*time.Millisecond, cfg.SlowRepository)
	assert.Equal(t, "postgres://localhost/bus", cfg.BusConnectionString)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadIgnoresNonNumericValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/curate")
	t.Setenv("CHANGE_FEED_PAGE_SIZE", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.ChangeFeedPageSize)
}
