// internal/discovery/watcher.go
package discovery

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SettingsWatcher caches Credentials and drops the cache whenever the Claude
// settings file changes on disk.
type SettingsWatcher struct {
	home    string
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	// watching is false when the settings directory could not be watched;
	// Credentials then reads the file on every call.
	watching bool

	mu     sync.Mutex
	cached *Credentials

	changes chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	runMu   sync.Mutex
	started bool
	closed  bool
}

func NewSettingsWatcher(home string, logger *zap.Logger) (*SettingsWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	sw := &SettingsWatcher{
		home:    home,
		path:    SettingsPath(home),
		logger:  logger.Named("discovery"),
		watcher: w,
		changes: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if err := w.Add(filepath.Dir(sw.path)); err != nil {
		sw.logger.Warn("settings directory not watched", zap.String("path", sw.path), zap.Error(err))
	} else {
		sw.watching = true
	}
	return sw, nil
}

// Start runs the event loop until ctx ends or Close is called. Calls after
// the first, or after Close, do nothing.
func (sw *SettingsWatcher) Start(ctx context.Context) {
	sw.runMu.Lock()
	defer sw.runMu.Unlock()
	if sw.started || sw.closed {
		return
	}
	sw.started = true
	go sw.run(ctx)
}

// Close stops the watcher whether or not Start was called.
func (sw *SettingsWatcher) Close() error {
	sw.runMu.Lock()
	if sw.closed {
		sw.runMu.Unlock()
		return nil
	}
	sw.closed = true
	started := sw.started
	sw.runMu.Unlock()

	close(sw.stopCh)
	if started {
		<-sw.doneCh
	}
	return sw.watcher.Close()
}

// Changes receives a value after the settings file changed.
func (sw *SettingsWatcher) Changes() <-chan struct{} {
	return sw.changes
}

// Credentials returns the cached credentials, loading them when needed.
func (sw *SettingsWatcher) Credentials() Credentials {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.cached != nil && sw.watching {
		return *sw.cached
	}
	c := LoadCredentials(sw.home)
	sw.cached = &c
	return c
}

func (sw *SettingsWatcher) run(ctx context.Context) {
	defer close(sw.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopCh:
			return
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != sw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			sw.invalidate()
			sw.logger.Info("claude settings changed", zap.String("op", ev.Op.String()))
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Error("settings watcher", zap.Error(err))
		}
	}
}

func (sw *SettingsWatcher) invalidate() {
	sw.mu.Lock()
	sw.cached = nil
	sw.mu.Unlock()
	select {
	case sw.changes <- struct{}{}:
	default:
	}
}
