// internal/logging/logging_test.go
package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sessionviewer/internal/config"
)

func TestNewFile_WritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cfg := &config.Config{}
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.File = path

	logger, err := NewFile(cfg)
	require.NoError(t, err)
	logger.Named("controller").Debug("generation started", zap.String("session_id", "abc"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"controller"`)
	assert.Contains(t, string(data), `"session_id":"abc"`)
}

func TestNew_BadLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
