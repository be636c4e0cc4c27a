// internal/logging/logging.go
// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sessionviewer/internal/config"
)

// New builds a logger from the logging section of cfg. When file is set the
// logger writes there, otherwise to stderr.
func New(cfg *config.Config) (*zap.Logger, error) {
	return build(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
}

// NewFile is New with output forced into a file, for the full-screen TUI.
// An empty path falls back to the data directory.
func NewFile(cfg *config.Config) (*zap.Logger, error) {
	path := cfg.Logging.File
	if path == "" {
		path = filepath.Join(config.DataDir(), "sessionviewer.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return build(cfg.Logging.Level, cfg.Logging.Format, path)
}

func build(level, format, path string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var zc zap.Config
	if format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	out := "stderr"
	if path != "" {
		out = path
	}
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{out}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
