package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "directory:\n  source: miniserver\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Cache.DeviceStateTTL)
	assert.Equal(t, 60*time.Second, cfg.Cache.SensorTTL)
	assert.Equal(t, time.Hour, cfg.Cache.StructureTTL)
	assert.Equal(t, 1000, cfg.Cache.MaxCacheSize)
	assert.True(t, cfg.Cache.EnablePrefetch)
	assert.Equal(t, 5*time.Second, cfg.State.DebounceWindow)
	assert.Equal(t, 100, cfg.State.HistorySize)
	assert.Equal(t, 24*time.Hour, cfg.State.HistoryRetention)
	assert.Equal(t, 10*time.Second, cfg.Miniserver.Timeout)
	assert.Equal(t, "pma_sensor", cfg.Monitoring.Metrics.Prefix)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
directory:
  source: file
  file: ./devices.yaml
cache:
  device_state_ttl: 10s
  max_cache_size: 50
state:
  significance:
    temperature_major: 3.5
sensors:
  explicit_mappings:
    - uuid: 0CD8.01.T1
      kind: temperature
`)
	t.Setenv("MINISERVER_HOST", "192.168.1.77")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Cache.DeviceStateTTL)
	assert.Equal(t, 50, cfg.Cache.MaxCacheSize)
	assert.Equal(t, 3.5, cfg.State.Significance.TemperatureMajor)
	require.Len(t, cfg.Sensors.ExplicitMappings, 1)
	assert.Equal(t, ExplicitMapping{UUID: "0CD8.01.T1", Kind: "temperature"}, cfg.Sensors.ExplicitMappings[0])
	assert.Equal(t, "192.168.1.77", cfg.Miniserver.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 0},
		Directory: DirectoryConfig{Source: "ftp"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"server.port",
		"server.host",
		"directory.source",
		"miniserver.host",
		"cache.device_state_ttl",
		"cache.max_cache_size",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_FileSourceNeedsPath(t *testing.T) {
	path := writeConfig(t, "directory:\n  source: file\n  file: \"\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory.file is required")
}
