// internal/backend/replay.go
package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"sessionviewer/internal/chat"
)

// ReplayTransport streams a recorded NDJSON file of chat events. Start and
// Continue behave the same; the request is ignored.
type ReplayTransport struct {
	path   string
	delay  time.Duration
	logger *zap.Logger
}

// NewReplay returns a transport reading events from path, pausing delay
// between events.
func NewReplay(path string, delay time.Duration, logger *zap.Logger) *ReplayTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayTransport{path: path, delay: delay, logger: logger.Named("replay")}
}

func (t *ReplayTransport) Start(ctx context.Context, _ Request) (Stream, error) {
	return t.open(ctx)
}

func (t *ReplayTransport) Continue(ctx context.Context, _ Request) (Stream, error) {
	return t.open(ctx)
}

func (t *ReplayTransport) open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &stream{events: make(chan chat.Event), cancel: cancel}
	go func() {
		defer close(s.events)
		defer cancel()
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for lineNo := 1; scanner.Scan(); lineNo++ {
			if len(scanner.Bytes()) == 0 {
				continue
			}
			ev, err := chat.DecodeEvent(scanner.Bytes())
			if err != nil {
				level := t.logger.Warn
				if errors.Is(err, chat.ErrUnknownEvent) {
					level = t.logger.Debug
				}
				level("skipping replay line", zap.Int("line", lineNo), zap.Error(err))
				continue
			}
			if t.delay > 0 {
				select {
				case <-time.After(t.delay):
				case <-streamCtx.Done():
					return
				}
			}
			select {
			case s.events <- ev:
			case <-streamCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case s.events <- chat.Failure("read replay: " + err.Error()):
			case <-streamCtx.Done():
			}
		}
	}()
	return s, nil
}
