package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/store"
)

func msg(role chat.Role, blocks ...chat.ContentBlock) chat.ChatMessage {
	return chat.ChatMessage{Role: role, Content: blocks}
}

func TestPrinter_StreamsEachPieceOnce(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf}

	user := msg(chat.RoleUser, chat.TextBlock("hi"))
	p.flush([]chat.ChatMessage{user, msg(chat.RoleAssistant, chat.ThinkingBlock("hm"))}, false)
	p.flush([]chat.ChatMessage{user, msg(chat.RoleAssistant, chat.ThinkingBlock("hmm"))}, false)
	p.flush([]chat.ChatMessage{user, msg(chat.RoleAssistant,
		chat.ThinkingBlock("hmm"),
		chat.TextBlock("Hel"))}, false)
	p.flush([]chat.ChatMessage{user, msg(chat.RoleAssistant,
		chat.ThinkingBlock("hmm"),
		chat.TextBlock("Hello"),
		chat.ToolUseBlock("t1", "Bash", `{"command":"ls"}`))}, false)
	assert.NotContains(t, buf.String(), "Bash", "an open tool use waits for its input")

	final := []chat.ChatMessage{
		user,
		msg(chat.RoleAssistant,
			chat.ThinkingBlock("hmm"),
			chat.TextBlock("Hello"),
			chat.ToolUseBlock("t1", "Bash", `{"command":"ls"}`)),
		msg(chat.RoleUser, chat.ToolResultBlock("t1", "a.go", false)),
	}
	p.flush(final, true)
	p.flush(final, true)

	want := "\n── user ──\nhi\n" +
		"\n── assistant ──\n(thinking) hmm\nHello\n⚙ Bash " + oneLineInput(final[1].Content[2]) + "\n" +
		"\n── user ──\n↳ a.go\n"
	assert.Equal(t, want, buf.String())
}

func oneLineInput(b chat.ContentBlock) string {
	return preview(b.DisplayInput(), 1<<20)
}

func TestFirstLines(t *testing.T) {
	assert.Equal(t, "a\n  b", firstLines("a\nb\n", 5))
	assert.Equal(t, "a\n  b\n  … 2 more lines", firstLines("a\nb\nc\nd", 2))
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	events := []chat.Event{
		chat.SessionStarted("s1"),
		chat.MessageStart(chat.RoleAssistant, "claude-sonnet-4-6"),
		chat.BlockStart(chat.BlockText),
		chat.Delta("Hello"),
		chat.BlockStop(),
		chat.ToolUseStart("t1", "Bash", `{"command":"ls"}`),
		chat.BlockStop(),
		chat.MessageDelta(chat.UsageDelta{InputTokens: chat.Tokens(10), OutputTokens: chat.Tokens(5)}),
		chat.MessageStop(),
		chat.ToolResult("t1", "a.go", false),
		chat.Done(),
	}
	var file bytes.Buffer
	for _, ev := range events {
		line, err := json.Marshal(ev)
		require.NoError(t, err)
		file.Write(line)
		file.WriteByte('\n')
	}
	path := filepath.Join(dir, "events.ndjson")
	require.NoError(t, os.WriteFile(path, file.Bytes(), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"replay", path, "--config", filepath.Join(dir, "missing.yaml"), "--cli", "claude"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	got := out.String()
	for _, want := range []string{
		"── user ──\nevents.ndjson\n",
		"── assistant ──\nHello\n⚙ Bash",
		"↳ a.go",
		"status:   idle",
		"session:  s1",
		"turns:    1",
		"links:    1 linked\n",
		"usage:    10 in / 5 out",
	} {
		assert.Contains(t, got, want)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDeleteCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "archive.db")
	t.Setenv("SESSIONVIEWER_DB", dbPath)

	s, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.SaveTranscript(store.Transcript{
		SessionID: "sess-1", Source: "claude", ProjectPath: "/p",
		Messages: []chat.ChatMessage{msg(chat.RoleUser, chat.TextBlock("hi"))},
	}))
	require.NoError(t, s.UpdateSessionMeta("claude", "/p", "sess-1", "scratch", []string{"tmp"}))
	_, err = s.AddBookmark(store.Bookmark{Source: "claude", ProjectID: "/p", SessionID: "sess-1"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	got, err := execute(t, "delete", "sess-1", "--config", filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Contains(t, got, "deleted sess-1")

	s, err = store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.LoadTranscript("sess-1")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	meta, err := s.SessionMeta("claude", "/p", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionMeta{}, meta)
	marks, err := s.ListBookmarks("")
	require.NoError(t, err)
	assert.Empty(t, marks)

	_, err = execute(t, "delete", "sess-1", "--config", filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestRunCommand_API(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		for _, ev := range []string{
			`{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-6","usage":{"input_tokens":4}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello from the API"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","usage":{"output_tokens":6}}`,
			`{"type":"message_stop"}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)
	t.Cleanup(func() { useAPI, runNoSave, cliName = false, false, "" })

	got, err := execute(t, "run", "--api", "--no-save", "--cli", "claude",
		"--config", filepath.Join(dir, "missing.yaml"), "say hello")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", gotKey)
	assert.Contains(t, got, "── user ──\nsay hello\n")
	assert.Contains(t, got, "── assistant ──\nHello from the API\n")
	assert.Contains(t, got, "idle")
	assert.Contains(t, got, "4 in / 6 out")

	_, err = execute(t, "run", "--api", "--cli", "codex", "--config", filepath.Join(dir, "missing.yaml"), "x")
	assert.ErrorContains(t, err, "--api needs the claude CLI")
}
