package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"JWT_SECRET": "s"}))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 10*time.Minute, cfg.RevealDuration.Duration)
	assert.False(t, cfg.Alerts)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"JWT_SECRET":      "s",
		"PORT":            "9000",
		"STORAGE":         "postgres",
		"DB_USER":         "bid",
		"DB_PASSWORD":     "p@ss",
		"DB_HOST":         "db",
		"DB_NAME":         "blindbid",
		"REDIS_HOST":      "redis",
		"ALERTS_ENABLED":  "true",
		"REVEAL_DURATION": "90s",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Alerts)
	assert.Equal(t, 90*time.Second, cfg.RevealDuration.Duration)
	assert.Equal(t, "postgres://bid:p%40ss@db:5432/blindbid?sslmode=disable", cfg.DB.DSN())
}

func TestFromEnvTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blindbid.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = "7000"
reveal_duration = "5m"
jwt_secret = "from-file"

[redis]
addr = "cache:6380"
`), 0o600))

	cfg, err := FromEnv(env(map[string]string{"CONFIG_FILE": path, "PORT": "7001"}))
	require.NoError(t, err)
	assert.Equal(t, "7001", cfg.Port, "environment wins over the file")
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 5*time.Minute, cfg.RevealDuration.Duration)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
}

func TestFromEnvRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":      {},
		"unknown storage":     {"JWT_SECRET": "s", "STORAGE": "redis"},
		"bad duration":        {"JWT_SECRET": "s", "REVEAL_DURATION": "soon"},
		"zero reveal":         {"JWT_SECRET": "s", "REVEAL_DURATION": "0s"},
		"bad bool":            {"JWT_SECRET": "s", "ALERTS_ENABLED": "maybe"},
		"postgres without db": {"JWT_SECRET": "s", "STORAGE": "postgres"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(vars))
			assert.Error(t, err)
		})
	}
}
