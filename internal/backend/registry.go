// internal/backend/registry.go
package backend

import (
	"fmt"

	"sessionviewer/internal/config"
)

// Registry holds a transport per enabled CLI
type Registry struct {
	transports map[CLIType]*CLITransport
	order      []CLIType // Preserve order for consistent display
}

// NewRegistry creates a registry from config
func NewRegistry(cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		transports: make(map[CLIType]*CLITransport),
	}

	base := []Option{
		WithEventBuffer(cfg.Chat.EventBuffer),
		WithKillDelay(cfg.CancelTimeout()),
	}
	opts = append(base, opts...)

	if cfg.Backends.Claude.Enabled {
		r.add(NewClaude(cfg.Backends.Claude, opts...))
	}
	if cfg.Backends.Codex.Enabled {
		r.add(NewCodex(cfg.Backends.Codex, opts...))
	}

	return r
}

func (r *Registry) add(t *CLITransport) {
	r.transports[t.Kind()] = t
	r.order = append(r.order, t.Kind())
}

// Get returns the transport for a CLI
func (r *Registry) Get(kind CLIType) (*CLITransport, error) {
	t, ok := r.transports[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not enabled", ErrUnsupportedCLI, kind)
	}
	return t, nil
}

// Enabled returns the enabled CLIs in order
func (r *Registry) Enabled() []CLIType {
	return r.order
}

// Count returns number of enabled CLIs
func (r *Registry) Count() int {
	return len(r.order)
}
