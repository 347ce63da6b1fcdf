package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolselect/pkg/utils"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  address: "localhost:3000"
setup:
  file: /etc/dcache/poolmanager.conf
  watch: true
  debounce: 1s
  all_pools_active: true
replica:
  enabled: true
  store: badger
  data_dir: /var/lib/poolselect
  value_log_size: 64MiB
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", cfg.Server.Address)
	assert.Equal(t, ":9288", cfg.Server.MetricsAddress, "defaults survive partial files")
	assert.True(t, cfg.Setup.Watch)
	assert.Equal(t, time.Second, cfg.Setup.DebounceDuration())
	require.NotNil(t, cfg.Setup.AllPoolsActive)
	assert.True(t, *cfg.Setup.AllPoolsActive)
	assert.Equal(t, StoreBadger, cfg.Replica.Store)
	assert.Equal(t, 8, cfg.Replica.LoadConcurrency)
	assert.Equal(t, 64*utils.MegaByte, cfg.Replica.ValueLogBytes())
	assert.False(t, cfg.Server.TLS.Options().Enabled())
}

func TestLoadConfigTLS(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  tls:
    cert_file: /etc/grid-security/hostcert.pem
    key_file: /etc/grid-security/hostkey.pem
    ca_file: /etc/grid-security/ca.pem
    require_client_cert: true
    min_version: "1.3"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	opts := cfg.Server.TLS.Options()
	assert.True(t, opts.Enabled())
	assert.True(t, opts.RequireClientCert)
	assert.Equal(t, "/etc/grid-security/ca.pem", opts.CAFile)
	assert.Equal(t, "1.3", opts.MinVersion)
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "server": {"address": "0.0.0.0:2288", "metrics_address": ""},
  "replica": {"enabled": true, "data_dir": "/pool", "load_concurrency": 2}
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:2288", cfg.Server.Address)
	assert.Empty(t, cfg.Server.MetricsAddress)
	assert.Equal(t, StoreFile, cfg.Replica.Store)
	assert.Equal(t, 2, cfg.Replica.LoadConcurrency)
	assert.Nil(t, cfg.Setup.AllPoolsActive)
	assert.Zero(t, cfg.Replica.ValueLogBytes())
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"bad store":          "replica:\n  store: sqlite\n",
		"missing data dir":   "replica:\n  enabled: true\n",
		"bad address":        "server:\n  address: nowhere\n",
		"bad debounce":       "setup:\n  debounce: soon\n",
		"negative debounce":  "setup:\n  debounce: -1s\n",
		"watch without file": "setup:\n  watch: true\n",
		"bad size":           "replica:\n  value_log_size: 12XB\n",
		"bad concurrency":    "replica:\n  load_concurrency: -3\n",
		"cert without key":   "server:\n  tls:\n    cert_file: a.pem\n",
		"client cert no ca":  "server:\n  tls:\n    require_client_cert: true\n",
		"bad tls version":    "server:\n  tls:\n    min_version: \"1.1\"\n",
		"not yaml":           "server: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "config.yml", content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POOLSELECT_ADDRESS", "127.0.0.1:4000")
	t.Setenv("POOLSELECT_SETUP_FILE", "/tmp/poolmanager.conf")
	t.Setenv("POOLSELECT_WATCH_SETUP", "true")
	t.Setenv("POOLSELECT_REPLICA_DIR", "/tmp/pool")
	t.Setenv("POOLSELECT_LOAD_CONCURRENCY", "4")
	t.Setenv("POOLSELECT_ALL_POOLS_ACTIVE", "false")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Address)
	assert.Equal(t, "/tmp/poolmanager.conf", cfg.Setup.File)
	assert.True(t, cfg.Setup.Watch)
	assert.True(t, cfg.Replica.Enabled, "a data directory enables the replica store")
	assert.Equal(t, 4, cfg.Replica.LoadConcurrency)
	require.NotNil(t, cfg.Setup.AllPoolsActive)
	assert.False(t, *cfg.Setup.AllPoolsActive)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("POOLSELECT_WATCH_SETUP", "sometimes")
	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("POOLSELECT_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "poolselect"), GetConfigDir())

	dir := t.TempDir()
	t.Setenv("POOLSELECT_CONFIG_DIR", dir)
	assert.Equal(t, dir, GetConfigDir())
	assert.Equal(t, filepath.Join(dir, "config.yaml"), DefaultConfigPath())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0644))
	assert.Equal(t, filepath.Join(dir, "config.json"), DefaultConfigPath())
}

func TestResolvePaths(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("POOL_ROOT", "/srv/pool")

	cfg := Default()
	cfg.Setup.File = "~/poolmanager.conf"
	cfg.Replica.DataDir = "$POOL_ROOT/meta"
	cfg.ResolvePaths()

	assert.Equal(t, filepath.Join(home, "poolmanager.conf"), cfg.Setup.File)
	assert.Equal(t, "/srv/pool/meta", cfg.Replica.DataDir)
}
