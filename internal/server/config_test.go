package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_RequiresTokenSecret(t *testing.T) {
	_, err := LoadConfig("")

	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: "0.0.0.0:9090"
token_secret: "file-secret"
max_clients: 500
write_timeout: 5s
`), 0o644))

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "file-secret", cfg.TokenSecret)
	assert.Equal(t, 500, cfg.MaxClients)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	// untouched fields keep their defaults
	assert.Equal(t, "shiftsync:changes", cfg.RedisChannel)
	assert.Equal(t, 64, cfg.SendBuffer)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`token_secret: "file-secret"`), 0o644))

	t.Setenv("SHIFTSYNC_TOKEN_SECRET", "env-secret")
	t.Setenv("SHIFTSYNC_DATABASE_URL", "postgres://env/db")
	t.Setenv("SHIFTSYNC_REDIS_ADDR", "127.0.0.1:6379")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.TokenSecret)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}
