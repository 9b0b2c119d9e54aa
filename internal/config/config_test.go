package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, env, body string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config."+env+".yaml"), []byte(body), 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", env)
}

func TestLoad_File_And_Env_Override(t *testing.T) {
	req := require.New(t)
	writeConfig(t, "test", `
port: 9000
secret: cookie-secret-0123456789
auth:
  jwt_secret: jwt-secret-0123456789
storage:
  driver: memory
signal:
  require_auth: true
`)
	t.Setenv("HUDDLE_PORT", "9100")
	t.Setenv("HUDDLE_RATE_LIMIT_REQUESTS", "7")

	cfg, err := Load()
	req.NoError(err)
	req.Equal(9100, cfg.Port)
	req.Equal(7, cfg.RateLimit.Requests)
	req.Equal(15*time.Minute, cfg.RateLimit.Window)
	req.True(cfg.Signal.RequireAuth)
	req.Equal(54*time.Second, cfg.PingPeriod)
	req.Equal(168*time.Hour, cfg.Auth.TokenTTL)
	req.Len(cfg.Signal.ICEServers, 2)
}

func TestLoad_Rejects_Missing_Secrets(t *testing.T) {
	writeConfig(t, "test", "port: 9000\n")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:       8080,
		Secret:     "cookie-secret-0123456789",
		PingPeriod: time.Second,
		Auth:       AuthConfig{JWTSecret: "jwt-secret-0123456789"},
		Storage:    StorageConfig{Driver: "memory"},
	}
	require.NoError(t, base.Validate())

	pg := base
	pg.Storage.Driver = "postgres"
	require.Error(t, pg.Validate())
	pg.Storage.PostgresDSN = "postgres://localhost/huddle"
	require.NoError(t, pg.Validate())

	bad := base
	bad.Storage.Driver = "mongo"
	require.Error(t, bad.Validate())
}
