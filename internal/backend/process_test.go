// internal/backend/process_test.go
package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCLI writes an executable shell script standing in for a CLI.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func drain(t *testing.T, s Stream) []chat.Event {
	t.Helper()
	var evs []chat.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func TestCLITransport_Success(t *testing.T) {
	cli := fakeCLI(t, `
cat <<'EOF'
{"type":"system","subtype":"init","session_id":"sess-1"}

not json at all
{"type":"assistant","message":{"id":"m1","model":"claude-haiku-4-5","content":[{"type":"text","text":"hi"}]}}
{"type":"result","subtype":"success","is_error":false,"result":"hi","session_id":"sess-1"}
{"type":"assistant","message":{"id":"m2","content":[{"type":"text","text":"after the end"}]}}
EOF
`)
	tr := NewClaude(config.BackendConfig{CLIPath: cli})
	s, err := tr.Start(context.Background(), Request{ProjectPath: t.TempDir(), Prompt: "hi"})
	require.NoError(t, err)

	evs := drain(t, s)
	require.NotEmpty(t, evs)
	assert.Equal(t, chat.SessionStarted("sess-1"), evs[0])
	assert.Equal(t, chat.Done(), evs[len(evs)-1])
	for _, ev := range evs {
		assert.NotEqual(t, "after the end", ev.Text, "events after the terminal event are dropped")
	}
}

func TestCLITransport_CodexReadsPromptFromStdin(t *testing.T) {
	cli := fakeCLI(t, `
prompt=$(cat)
echo "{\"type\":\"thread.started\",\"thread_id\":\"$prompt\"}"
echo '{"type":"turn.completed","usage":{"input_tokens":1,"output_tokens":2}}'
`)
	tr := NewCodex(config.BackendConfig{CLIPath: cli})
	s, err := tr.Start(context.Background(), Request{ProjectPath: t.TempDir(), Prompt: "hello"})
	require.NoError(t, err)

	evs := drain(t, s)
	require.NotEmpty(t, evs)
	assert.Equal(t, chat.SessionStarted("hello"), evs[0])
	assert.Equal(t, chat.Done(), evs[len(evs)-1])
}

func TestCLITransport_ExitWithoutResult(t *testing.T) {
	t.Run("non-zero exit reports stderr", func(t *testing.T) {
		cli := fakeCLI(t, `
echo '{"type":"system","subtype":"init","session_id":"s"}'
echo "Error: model not found" >&2
exit 3
`)
		s, err := NewClaude(config.BackendConfig{CLIPath: cli}).Start(context.Background(), Request{ProjectPath: t.TempDir()})
		require.NoError(t, err)

		evs := drain(t, s)
		last := evs[len(evs)-1]
		assert.Equal(t, chat.EventError, last.Type)
		assert.Contains(t, last.Message, "exit status 3")
		assert.Contains(t, last.Message, "Error: model not found")
	})

	t.Run("clean exit closes open messages and completes", func(t *testing.T) {
		cli := fakeCLI(t, `
echo '{"type":"assistant","message":{"id":"m1","content":[{"type":"text","text":"partial"}]}}'
`)
		s, err := NewClaude(config.BackendConfig{CLIPath: cli}).Start(context.Background(), Request{ProjectPath: t.TempDir()})
		require.NoError(t, err)

		evs := drain(t, s)
		require.GreaterOrEqual(t, len(evs), 2)
		assert.Equal(t, chat.MessageStop(), evs[len(evs)-2])
		assert.Equal(t, chat.Done(), evs[len(evs)-1])
	})
}

func TestCLITransport_Cancel(t *testing.T) {
	cli := fakeCLI(t, `
echo '{"type":"system","subtype":"init","session_id":"s"}'
exec sleep 30
`)
	tr := NewClaude(config.BackendConfig{CLIPath: cli}, WithKillDelay(time.Second))
	s, err := tr.Start(context.Background(), Request{ProjectPath: t.TempDir()})
	require.NoError(t, err)

	first := <-s.Events()
	assert.Equal(t, chat.SessionStarted("s"), first)

	require.NoError(t, s.Cancel(context.Background()))
	require.NoError(t, s.Cancel(context.Background()), "cancel is idempotent")

	for _, ev := range drain(t, s) {
		assert.False(t, ev.Type.Terminal(), "a cancelled process reports no terminal event, got %+v", ev)
	}
}

func TestCLITransport_LaunchErrors(t *testing.T) {
	tr := NewClaude(config.BackendConfig{CLIPath: filepath.Join(t.TempDir(), "missing")})
	_, err := tr.Start(context.Background(), Request{})
	assert.Error(t, err)

	_, err = tr.Continue(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "missing session id")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewClaude(config.BackendConfig{CLIPath: "true"}).Start(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	cfg := &config.Config{}
	cfg.Backends.Codex.Enabled = true
	cfg.Backends.Codex.CLIPath = "codex"

	r := NewRegistry(cfg)
	assert.Equal(t, []CLIType{CLICodex}, r.Enabled())
	assert.Equal(t, 1, r.Count())

	tr, err := r.Get(CLICodex)
	require.NoError(t, err)
	assert.Equal(t, CLICodex, tr.Kind())

	_, err = r.Get(CLIClaude)
	assert.ErrorIs(t, err, ErrUnsupportedCLI)
}

func TestParseCLIType(t *testing.T) {
	got, err := ParseCLIType(" Codex ")
	require.NoError(t, err)
	assert.Equal(t, CLICodex, got)
	assert.Equal(t, chat.RoleTool, got.ToolResultRole())
	assert.Equal(t, chat.RoleUser, CLIClaude.ToolResultRole())

	_, err = ParseCLIType("gemini")
	assert.ErrorIs(t, err, ErrUnsupportedCLI)
}
