package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFailsWithoutAuthSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "shh")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "redis://localhost:6379/0", cfg.SharedStoreURL)
	assert.Equal(t, "todo:updates", cfg.PubSubChannel)
	assert.Equal(t, "collab.sqlite3", cfg.DurableStorePath)
	assert.Equal(t, 1000, cfg.WriterQueueSize)
	assert.Equal(t, 5, cfg.WriterShutdownDrainSeconds)
	assert.Equal(t, 5*time.Second, cfg.ShutdownDrain())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("AUTH_SECRET", "shh")
	t.Setenv("PORT", "9090")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
}
