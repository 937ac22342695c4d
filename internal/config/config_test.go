package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "claude", cfg.Bridge.AgentCommand)
	assert.Positive(t, cfg.Bridge.MaxHookBodyBytes)
	assert.True(t, cfg.Bridge.IsReadOnlyTool("Read"))
	assert.False(t, cfg.Bridge.IsReadOnlyTool("Bash"))
}

func TestDefaultDiscoveryDirHonoursClaudeConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvClaudeConfigDir, dir)

	assert.Equal(t, filepath.Join(dir, "ide"), DefaultDiscoveryDir())
	assert.Equal(t, filepath.Join(dir, "ide"), DefaultConfig().Bridge.DiscoveryDir)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Bridge.AgentCommand, cfg.Bridge.AgentCommand)
}

func TestLoadOverlaysFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"log_level":"debug","bridge":{"ide_name":"Grove","agent_command":"","read_only_tools":["Read"]}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "Grove", cfg.Bridge.IDEName)
	assert.Equal(t, "claude", cfg.Bridge.AgentCommand, "empty values fall back to defaults")
	assert.Equal(t, []string{"Read"}, cfg.Bridge.ReadOnlyTools)
	assert.False(t, cfg.Bridge.IsReadOnlyTool("Grep"))
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.Bridge.IDEName = "Roundtrip"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Roundtrip", loaded.Bridge.IDEName)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogPath, "/tmp/agentbridge-test.log")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/tmp/agentbridge-test.log", cfg.LogPath)
}
