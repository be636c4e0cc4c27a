// internal/discovery/detect.go
package discovery

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sessionviewer/internal/backend"
)

// ErrUnknownCLI is returned for a CLI type discovery knows nothing about.
var ErrUnknownCLI = errors.New("unknown cli type")

// Installation describes one CLI on this machine. Available is false when
// the binary could not be found; Version is empty when `--version` failed.
type Installation struct {
	CLI       backend.CLIType `json:"cliType"`
	Path      string          `json:"path,omitempty"`
	Version   string          `json:"version,omitempty"`
	Available bool            `json:"available"`
}

// Detector locates CLI binaries.
type Detector struct {
	logger   *zap.Logger
	home     string
	lookPath func(string) (string, error)

	// systemDirs are searched after the per-user install locations.
	systemDirs []string
	timeout    time.Duration
}

type DetectorOption func(*Detector)

// WithHome overrides the home directory used for known install paths.
func WithHome(home string) DetectorOption {
	return func(d *Detector) { d.home = home }
}

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) DetectorOption {
	return func(d *Detector) { d.lookPath = fn }
}

func WithSystemDirs(dirs ...string) DetectorOption {
	return func(d *Detector) { d.systemDirs = dirs }
}

func WithVersionTimeout(timeout time.Duration) DetectorOption {
	return func(d *Detector) { d.timeout = timeout }
}

func NewDetector(logger *zap.Logger, opts ...DetectorOption) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	home, _ := os.UserHomeDir()
	d := &Detector{
		logger:     logger.Named("discovery"),
		home:       home,
		lookPath:   exec.LookPath,
		systemDirs: []string{"/usr/local/bin", "/opt/homebrew/bin"},
		timeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectCLI finds cli and asks it for its version. A missing binary is not
// an error; the result is simply unavailable.
func (d *Detector) DetectCLI(ctx context.Context, cli backend.CLIType) (Installation, error) {
	binary, ok := binaries[cli]
	if !ok {
		return Installation{CLI: cli}, ErrUnknownCLI
	}

	inst := Installation{CLI: cli}
	path, found := d.find(binary)
	if !found {
		d.logger.Debug("cli not found", zap.String("cli", string(cli)))
		return inst, nil
	}
	inst.Path = path
	inst.Available = true
	inst.Version = d.version(ctx, path)
	d.logger.Debug("cli detected",
		zap.String("cli", string(cli)),
		zap.String("path", path),
		zap.String("version", inst.Version))
	return inst, nil
}

// DetectAll probes every known CLI concurrently. Results follow
// backend.CLITypes order.
func (d *Detector) DetectAll(ctx context.Context) []Installation {
	out := make([]Installation, len(backend.CLITypes))
	g, gctx := errgroup.WithContext(ctx)
	for i, cli := range backend.CLITypes {
		g.Go(func() error {
			inst, err := d.DetectCLI(gctx, cli)
			if err != nil {
				d.logger.Warn("detect failed", zap.String("cli", string(cli)), zap.Error(err))
			}
			out[i] = inst
			return nil
		})
	}
	_ = g.Wait()
	return out
}

var binaries = map[backend.CLIType]string{
	backend.CLIClaude: "claude",
	backend.CLICodex:  "codex",
}

func (d *Detector) find(binary string) (string, bool) {
	if path, err := d.lookPath(binary); err == nil && path != "" {
		return path, true
	}
	for _, candidate := range d.knownPaths(binary) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func (d *Detector) knownPaths(binary string) []string {
	var paths []string
	if d.home != "" {
		paths = append(paths, filepath.Join(d.home, ".npm-global", "bin", binary))
		nvm, _ := filepath.Glob(filepath.Join(d.home, ".nvm", "versions", "node", "*", "bin", binary))
		paths = append(paths, nvm...)
		paths = append(paths,
			filepath.Join(d.home, ".local", "bin", binary),
			filepath.Join(d.home, ".bun", "bin", binary),
		)
	}
	for _, dir := range d.systemDirs {
		paths = append(paths, filepath.Join(dir, binary))
	}
	return paths
}

func (d *Detector) version(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		d.logger.Debug("version probe failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(string(out))
}
