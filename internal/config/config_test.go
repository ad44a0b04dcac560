package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "8080", cfg.PortString())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteDeadline)
	assert.Equal(t, 10*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 60*time.Second, cfg.PresenceTTL)
	assert.EqualValues(t, 65536, cfg.WS.MaxMessageSizeBytes)
	assert.NotEmpty(t, cfg.Backend.BaseURL)
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
app:
  port: 9090
backend:
  base_url: http://localhost:3000/api
ws:
  heartbeat_interval_seconds: 5
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "http://localhost:3000/api", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	// untouched sections still get defaults
	assert.Equal(t, 256, cfg.WS.SendBufferSize)
}
