// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := defaultConfig()

	assert.True(t, cfg.Backends.Claude.Enabled)
	assert.Equal(t, "claude", cfg.Backends.Claude.CLIPath)
	assert.Equal(t, "codex", cfg.Backends.Codex.CLIPath)
	assert.Equal(t, "claude", cfg.Chat.DefaultCLI)
	assert.Equal(t, 5*time.Second, cfg.CancelTimeout())
	assert.Equal(t, "/data/sessionviewer/sessionviewer.db", cfg.Storage.Path)
	assert.Equal(t, 16384, cfg.API.MaxTokens)
	assert.Equal(t, 5*time.Minute, cfg.APITimeout())
}

func TestLoadFrom_Missing(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFrom_File(t *testing.T) {
	t.Setenv("CODEX_BIN", "/opt/codex/bin/codex")
	t.Setenv("SESSIONVIEWER_LOG_LEVEL", "debug")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backends:
  claude:
    enabled: false
  codex:
    enabled: true
    cli_path: ${CODEX_BIN}
    extra_args: ["--full-auto"]
chat:
  default_cli: codex
  cancel_timeout: 2
storage:
  path: /tmp/archive.db
`), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.False(t, cfg.Backends.Claude.Enabled)
	assert.Equal(t, "claude", cfg.Backends.Claude.CLIPath, "unset path falls back to default")
	assert.Equal(t, "/opt/codex/bin/codex", cfg.Backends.Codex.CLIPath)
	assert.Equal(t, []string{"--full-auto"}, cfg.Backends.Codex.ExtraArgs)
	assert.Equal(t, "codex", cfg.Chat.DefaultCLI)
	assert.Equal(t, 2*time.Second, cfg.CancelTimeout())
	assert.Equal(t, 256, cfg.Chat.EventBuffer)
	assert.Equal(t, "/tmp/archive.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)

	b, ok := cfg.Backend("codex")
	require.True(t, ok)
	assert.True(t, b.Enabled)
	_, ok = cfg.Backend("gemini")
	assert.False(t, ok)
}

func TestLoadFrom_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backends: [unclosed"), 0o644))
	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	assert.Equal(t, "/cfg/sessionviewer/config.yaml", ConfigPath())
}
