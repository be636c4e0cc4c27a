// internal/backend/process.go
package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/config"
)

const stderrTail = 2048

// decoder turns CLI stdout lines into chat events. One decoder serves one
// process.
type decoder interface {
	Decode(line []byte) ([]chat.Event, error)
	// Flush closes whatever the decoder still holds open at EOF.
	Flush() []chat.Event
}

// CLITransport runs a CLI per generation and streams its stdout.
type CLITransport struct {
	kind         CLIType
	cliPath      string
	defaultModel string
	extraArgs    []string
	eventBuffer  int
	killDelay    time.Duration
	logger       *zap.Logger

	// args builds the command line, extra args included.
	args       func(req Request, model string, resume bool) []string
	stdin      func(req Request) string
	newDecoder func(model string) decoder
}

type Option func(*CLITransport)

func WithLogger(l *zap.Logger) Option {
	return func(t *CLITransport) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithEventBuffer(n int) Option {
	return func(t *CLITransport) {
		if n > 0 {
			t.eventBuffer = n
		}
	}
}

// WithKillDelay sets how long a cancelled CLI gets to exit after the
// interrupt before it is killed.
func WithKillDelay(d time.Duration) Option {
	return func(t *CLITransport) {
		if d > 0 {
			t.killDelay = d
		}
	}
}

func newCLITransport(kind CLIType, cfg config.BackendConfig, opts []Option) *CLITransport {
	t := &CLITransport{
		kind:         kind,
		cliPath:      cfg.CLIPath,
		defaultModel: cfg.DefaultModel,
		extraArgs:    cfg.ExtraArgs,
		eventBuffer:  256,
		killDelay:    5 * time.Second,
		logger:       zap.NewNop(),
	}
	if t.cliPath == "" {
		t.cliPath = string(kind)
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("backend").With(zap.String("cli", string(kind)))
	return t
}

func (t *CLITransport) Kind() CLIType { return t.kind }

func (t *CLITransport) DefaultModel() string { return t.defaultModel }

func (t *CLITransport) Start(ctx context.Context, req Request) (Stream, error) {
	return t.launch(ctx, req, false)
}

func (t *CLITransport) Continue(ctx context.Context, req Request) (Stream, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("continue %s: missing session id", t.kind)
	}
	return t.launch(ctx, req, true)
}

func (t *CLITransport) launch(ctx context.Context, req Request, resume bool) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = t.defaultModel
	}
	args := t.args(req, model, resume)

	// The process outlives ctx, which only bounds the launch.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, t.cliPath, args...)
	cmd.Dir = req.ProjectPath
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = t.killDelay
	if t.stdin != nil {
		cmd.Stdin = strings.NewReader(t.stdin(req))
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", t.kind, err)
	}
	t.logger.Debug("cli started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("dir", req.ProjectPath),
		zap.String("model", model),
		zap.Bool("resume", resume),
	)

	s := &stream{events: make(chan chat.Event, t.eventBuffer), cancel: cancel}
	go t.pump(procCtx, cmd, stdout, &stderr, t.newDecoder(model), s)
	return s, nil
}

// pump forwards decoded stdout events until EOF, then reports how the
// process ended if the CLI did not.
func (t *CLITransport) pump(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, dec decoder, s *stream) {
	defer close(s.events)
	defer s.cancel()

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024)

	terminal := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || terminal {
			continue
		}
		evs, err := dec.Decode(line)
		if err != nil {
			t.logger.Debug("skipping undecodable line", zap.Error(err), zap.ByteString("line", truncate(line, 200)))
			continue
		}
		for _, ev := range evs {
			s.events <- ev
			if ev.Type.Terminal() {
				terminal = true
				break
			}
		}
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	if terminal {
		return
	}
	for _, ev := range dec.Flush() {
		s.events <- ev
	}

	switch {
	case ctx.Err() != nil:
		t.logger.Info("cli cancelled", zap.Error(waitErr))
	case waitErr != nil || scanErr != nil:
		err := errors.Join(waitErr, scanErr)
		msg := fmt.Sprintf("%s exited: %v", t.kind, err)
		if tail := strings.TrimSpace(string(truncateTail(stderr.Bytes(), stderrTail))); tail != "" {
			msg += ": " + tail
		}
		t.logger.Error("cli failed", zap.Error(err))
		s.events <- chat.Failure(msg)
	default:
		s.events <- chat.Done()
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

func truncateTail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
