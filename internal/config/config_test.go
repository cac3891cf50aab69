package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYamlOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9000"
  postgresDsn: "postgres://localhost/dashboard"
ortto:
  apiKey: "from-file"
  queue:
    requestsPerWindow: 10
refill:
  batchSize: 25
  batchCooldown: 0s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Listen)
	require.Equal(t, "from-file", cfg.Ortto.APIKey)
	require.Equal(t, 10, cfg.Ortto.Queue.RequestsPerWindow)
	require.Equal(t, time.Second, cfg.Ortto.Queue.MinInterval, "unset fields keep their defaults")
	require.Equal(t, 25, cfg.Refill.BatchSize)
	require.Equal(t, time.Duration(0), cfg.Refill.BatchCooldown)
	require.Equal(t, 24*time.Hour, cfg.Cache.Expiry)
	require.Equal(t, 5*time.Minute, cfg.Cache.RateLimitWindow)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
ortto:
  apiKey: "from-file"
`)
	t.Setenv("ORTTO_API_KEY", "from-env")
	t.Setenv("REFILL_MAX_DELAY", "20s")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000,https://dashboard.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Ortto.APIKey)
	require.Equal(t, 20*time.Second, cfg.Refill.MaxDelay)
	require.Equal(t, []string{"http://localhost:3000", "https://dashboard.example.com"}, cfg.Server.CORSOrigins)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("ORTTO_API_KEY", "k")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.Server.Listen)
	require.Equal(t, 40, cfg.Refill.BatchSize)
}

func TestLoadWithoutAPIKey(t *testing.T) {
	t.Setenv("ORTTO_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Error(t, cfg.RequireUpstream())

	cfg.Ortto.APIKey = "k"
	require.NoError(t, cfg.RequireUpstream())
}

func TestLoadRejectsBadYaml(t *testing.T) {
	path := writeConfig(t, "server: [")
	_, err := Load(path)
	require.Error(t, err)
}
