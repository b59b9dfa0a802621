package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigAppliesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), *cfg)
}

func TestLoadServerConfigReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
chat_page_size: 20
`), 0o644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 20, cfg.ChatPageSize)
	// unset fields still get defaults.
	assert.Equal(t, DefaultServerConfig().UsersDBPath, cfg.UsersDBPath)
}

func TestLoadServerConfigReadsJSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen_addr": ":7000"}`), 0o644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
}

func TestServerEnvOverrideWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_addr: ":9000"`), 0o644))

	t.Setenv("CHAT_SERVER_ADDR", ":1234")
	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.ListenAddr)
}

func TestLoadClientConfigAppliesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultClientConfig(), *cfg)
}

func TestClientEnvOverrideWinsOverFile(t *testing.T) {
	t.Setenv("CHAT_SERVER_URL", "ws://override:9999/ws")
	cfg, err := LoadClientConfig("")
	require.NoError(t, err)
	assert.Equal(t, "ws://override:9999/ws", cfg.ServerURL)
}
