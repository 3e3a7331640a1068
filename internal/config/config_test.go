package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Realtime.URL)
	assert.False(t, cfg.Realtime.Disabled)
	assert.False(t, cfg.Dev)
	assert.Equal(t, 15*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, 30*time.Second, cfg.Realtime.PongWait)
	assert.Equal(t, time.Second, cfg.Realtime.BackoffFloor)
	assert.Equal(t, 30*time.Second, cfg.Realtime.BackoffCeiling)
	assert.Equal(t, 5, cfg.Realtime.MaxAttempts)
	assert.Equal(t, []string{"public.notifications", "public.alerts"}, cfg.Realtime.AutoChannels)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ProbeTimeout)
	assert.Equal(t, "file", cfg.Session.Backend)
}

func TestLoadClientEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CLOUDFARM_API_BASEURL", "https://api.cloudfarm.example")
	t.Setenv("CLOUDFARM_REALTIME_URL", "wss://rt.cloudfarm.example/ws")
	t.Setenv("CLOUDFARM_REALTIME_DISABLED", "true")
	t.Setenv("CLOUDFARM_REALTIME_MAXATTEMPTS", "8")
	t.Setenv("CLOUDFARM_REALTIME_BACKOFFCEILING", "1m")
	t.Setenv("CLOUDFARM_DEV", "true")

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, "https://api.cloudfarm.example", cfg.API.BaseURL)
	assert.Equal(t, "wss://rt.cloudfarm.example/ws", cfg.Realtime.URL)
	assert.True(t, cfg.Realtime.Disabled)
	assert.Equal(t, 8, cfg.Realtime.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Realtime.BackoffCeiling)
	assert.True(t, cfg.Dev)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadClientFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cloudfarm"), 0o755))
	content := []byte("api:\n  baseurl: http://farm.local:9000\nsession:\n  backend: memory\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cloudfarm", "cloudfarm.yaml"), content, 0o600))

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, "http://farm.local:9000", cfg.API.BaseURL)
	assert.Equal(t, "memory", cfg.Session.Backend)
}

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("CLOUDFARM_API_SECURITY_JWTACCESSTTL", "5m")
	t.Setenv("CLOUDFARM_API_SEED_ROLES", "admin,gerente")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Equal(t, "cloudfarm-api", cfg.Postgres.AppName)
	assert.Equal(t, 10*time.Second, cfg.Postgres.ConnectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Security.JWTAccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.Security.RefreshWindow)
	assert.Equal(t, []string{"admin", "gerente"}, cfg.Seed.Roles)
	assert.Equal(t, DefaultTaskStream, cfg.Queue.Stream)
}

func TestLoadWorkerDefaults(t *testing.T) {
	cfg, err := LoadWorker()
	require.NoError(t, err)

	assert.Equal(t, DefaultTaskStream, cfg.Redis.Stream)
	assert.Equal(t, "cloudfarm-workers", cfg.Redis.Group)
	assert.Equal(t, 10*time.Second, cfg.Queues.ClaimInterval)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisConfig().Addr)
	assert.Equal(t, "cloudfarm-worker", cfg.Postgres.AppName)
}
