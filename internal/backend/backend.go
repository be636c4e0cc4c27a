// internal/backend/backend.go
// Package backend launches the assistant CLIs and translates their output
// into chat events.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sessionviewer/internal/chat"
)

// ErrUnsupportedCLI is returned for a CLI type with no transport.
var ErrUnsupportedCLI = errors.New("unsupported cli type")

// CLIType names a backend CLI.
type CLIType string

const (
	CLIClaude CLIType = "claude"
	CLICodex  CLIType = "codex"
)

// CLITypes lists the supported CLIs in display order.
var CLITypes = []CLIType{CLIClaude, CLICodex}

func ParseCLIType(s string) (CLIType, error) {
	switch CLIType(strings.ToLower(strings.TrimSpace(s))) {
	case CLIClaude:
		return CLIClaude, nil
	case CLICodex:
		return CLICodex, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCLI, s)
}

// ToolResultRole is the role a CLI gives to messages carrying tool results.
func (c CLIType) ToolResultRole() chat.Role {
	if c == CLICodex {
		return chat.RoleTool
	}
	return chat.RoleUser
}

// Request is what a transport needs to run one generation. SessionID and
// History are only read by Continue.
type Request struct {
	ProjectPath string
	Prompt      string
	Model       string
	SessionID   string
	// History is the log before Prompt, for backends that keep no
	// conversation state of their own.
	History []chat.ChatMessage
}

// Stream is one running generation.
type Stream interface {
	// Events yields events in backend order and is closed when the
	// backend is finished, whether it completed, failed or was cancelled.
	Events() <-chan chat.Event
	// Cancel asks the backend to stop. It returns once the request is
	// delivered; exit is observed through Events closing. Safe to call
	// more than once.
	Cancel(ctx context.Context) error
}

// Transport launches generations. Both methods return once the backend has
// acknowledged the launch or failed to start.
type Transport interface {
	Start(ctx context.Context, req Request) (Stream, error)
	Continue(ctx context.Context, req Request) (Stream, error)
}

type stream struct {
	events chan chat.Event
	cancel context.CancelFunc
}

func (s *stream) Events() <-chan chat.Event { return s.events }

func (s *stream) Cancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cancel()
	return nil
}
