package config_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runpod/worker/internal/config"
)

func TestLoad_LocalTestWhenNoJobURL(t *testing.T) {
	t.Setenv("RUNPOD_WEBHOOK_GET_JOB", "")
	env := config.Load()
	assert.True(t, env.IsLocalTest())
}

func TestLoad_ServingModeWhenJobURLSet(t *testing.T) {
	t.Setenv("RUNPOD_WEBHOOK_GET_JOB", "http://localhost/job-take/id")
	env := config.Load()
	assert.False(t, env.IsLocalTest())
}

func TestLoad_PodIDFallsBackToGeneratedUUID(t *testing.T) {
	os.Unsetenv("RUNPOD_POD_ID")
	env := config.Load()
	require.NotEmpty(t, env.PodID)
}

func TestLoad_PingIntervalDefault(t *testing.T) {
	os.Unsetenv("RUNPOD_PING_INTERVAL")
	env := config.Load()
	assert.Equal(t, 10, int(env.PingInterval.Seconds()))
}

func TestLoad_PingIntervalFromEnv(t *testing.T) {
	t.Setenv("RUNPOD_PING_INTERVAL", "3")
	env := config.Load()
	assert.Equal(t, 3, int(env.PingInterval.Seconds()))
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, config.Env{DebugLevel: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, config.Env{DebugLevel: "WARNING"}.SlogLevel())
	assert.Equal(t, slog.LevelError, config.Env{DebugLevel: "ERROR"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, config.Env{DebugLevel: "INFO"}.SlogLevel())
}

func TestWithDefaults(t *testing.T) {
	cfg := config.WithDefaults(config.WorkerConfig{})
	assert.NotNil(t, cfg.ConcurrencyModifier)
	assert.Equal(t, 1, cfg.ConcurrencyModifier(1))
	assert.Equal(t, 20*1024*1024, cfg.MaxPayloadSize)
	assert.Equal(t, 1, cfg.InitialConcurrency)
}

func TestWithDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := config.WithDefaults(config.WorkerConfig{MaxPayloadSize: 512, InitialConcurrency: 4})
	assert.Equal(t, 512, cfg.MaxPayloadSize)
	assert.Equal(t, 4, cfg.InitialConcurrency)
}
