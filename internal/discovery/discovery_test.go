// internal/discovery/discovery_test.go
package discovery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionviewer/internal/backend"
)

func notFound(string) (string, error) { return "", errors.New("not found") }

func TestDetectCLI(t *testing.T) {
	home := t.TempDir()
	bin := filepath.Join(home, ".local", "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	claude := filepath.Join(bin, "claude")
	require.NoError(t, os.WriteFile(claude, []byte("#!/bin/sh\necho '2.1.3 (Claude Code)'\n"), 0o755))

	d := NewDetector(nil, WithHome(home), WithLookPath(notFound), WithSystemDirs())

	inst, err := d.DetectCLI(context.Background(), backend.CLIClaude)
	require.NoError(t, err)
	assert.True(t, inst.Available)
	assert.Equal(t, claude, inst.Path)
	assert.Equal(t, "2.1.3 (Claude Code)", inst.Version)

	inst, err = d.DetectCLI(context.Background(), backend.CLICodex)
	require.NoError(t, err)
	assert.False(t, inst.Available, "a missing binary is reported, not returned as an error")

	_, err = d.DetectCLI(context.Background(), backend.CLIType("gemini"))
	assert.ErrorIs(t, err, ErrUnknownCLI)
}

func TestDetectCLI_VersionFailure(t *testing.T) {
	dir := t.TempDir()
	codex := filepath.Join(dir, "codex")
	require.NoError(t, os.WriteFile(codex, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	d := NewDetector(nil, WithHome(t.TempDir()), WithLookPath(func(name string) (string, error) {
		if name == "codex" {
			return codex, nil
		}
		return "", errors.New("not found")
	}))
	inst, err := d.DetectCLI(context.Background(), backend.CLICodex)
	require.NoError(t, err)
	assert.True(t, inst.Available)
	assert.Empty(t, inst.Version)
}

func TestDetectAll(t *testing.T) {
	d := NewDetector(nil, WithHome(t.TempDir()), WithLookPath(func(name string) (string, error) {
		return "", errors.New("not found")
	}))
	all := d.DetectAll(context.Background())
	require.Len(t, all, len(backend.CLITypes))
	for i, cli := range backend.CLITypes {
		assert.Equal(t, cli, all[i].CLI)
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"":                      "",
		"short":                 "*****",
		"12345678":              "********",
		"sk-ant-api03-abcdwxyz": "sk-...wxyz",
	}
	for in, want := range tests {
		assert.Equal(t, want, MaskKey(in), in)
	}
}

func writeSettings(t *testing.T, home, body string) {
	t.Helper()
	path := SettingsPath(home)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadCredentials(t *testing.T) {
	t.Run("settings take precedence", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "env-key-123456")
		t.Setenv("ANTHROPIC_BASE_URL", "https://env.example")
		home := t.TempDir()
		writeSettings(t, home, `{"env":{"ANTHROPIC_AUTH_TOKEN":"token-abcdefgh","ANTHROPIC_API_KEY":"settings-key","ANTHROPIC_BASE_URL":"https://proxy.example"},"model":"opus"}`)

		c := LoadCredentials(home)
		assert.Equal(t, "token-abcdefgh", c.APIKey)
		assert.Equal(t, "https://proxy.example", c.BaseURL)
		assert.Equal(t, "opus", c.DefaultModel)
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "env-key-123456")
		t.Setenv("ANTHROPIC_BASE_URL", "")
		home := t.TempDir()
		writeSettings(t, home, `{"env":{"ANTHROPIC_API_KEY":""}}`)

		c := LoadCredentials(home)
		assert.Equal(t, "env-key-123456", c.APIKey)
		assert.Equal(t, DefaultBaseURL, c.BaseURL)
	})

	t.Run("malformed settings", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		home := t.TempDir()
		writeSettings(t, home, `{not json`)

		cfg := ReadCLIConfig(home)
		assert.False(t, cfg.HasAPIKey)
		assert.Empty(t, cfg.APIKeyMasked)
		assert.Equal(t, SettingsPath(home), cfg.ConfigPath)
	})
}

func TestSettingsWatcher(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ANTHROPIC_BASE_URL", "")
	home := t.TempDir()
	writeSettings(t, home, `{"env":{"ANTHROPIC_API_KEY":"first-key-0001"}}`)

	w, err := NewSettingsWatcher(home, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	assert.Equal(t, "first-key-0001", w.Credentials().APIKey)

	writeSettings(t, home, `{"env":{"ANTHROPIC_API_KEY":"second-key-0002"}}`)
	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	require.Eventually(t, func() bool {
		return w.Credentials().APIKey == "second-key-0002"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSettingsWatcher_CloseWithoutStart(t *testing.T) {
	w, err := NewSettingsWatcher(t.TempDir(), nil)
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked without Start")
	}
	assert.NoError(t, w.Close(), "second Close is a no-op")

	w.Start(context.Background())
}

const modelsResponse = `{"data":[
	{"id":"claude-opus-4-6","display_name":"Claude Opus 4.6","created_at":"2026-02-01T00:00:00Z"},
	{"id":"gpt-4o","display_name":"GPT-4o","created_at":"2026-03-01T00:00:00Z"},
	{"id":"claude-3-5-haiku-20241022","display_name":"Claude Haiku 3.5","created_at":"2024-10-22T00:00:00Z"},
	{"id":"claude-sonnet-4-7","created_at":"2026-05-01T00:00:00Z"}
]}`

func fastClient() *RetryableClient {
	return NewRetryableClient(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, 5*time.Second, nil)
}

func TestListModels_MergesAPIModels(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Write([]byte(modelsResponse))
	}))
	defer srv.Close()

	l := NewModelLister(fastClient(), nil, nil)
	models, err := l.ListModels(context.Background(), backend.CLIClaude, "sk-test", srv.URL+"/")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{
		"claude-sonnet-4-6", "claude-opus-4-6", "claude-haiku-4-5",
		"claude-sonnet-4-7", "claude-3-5-haiku-20241022",
	}, ids, "built-ins first, then new API models newest first")

	extra := models[3]
	assert.Equal(t, "claude-sonnet-4-7", extra.Name, "display name falls back to id")
	assert.Equal(t, "Claude Sonnet", extra.Group)
	assert.Equal(t, "Claude Haiku", models[4].Group)
}

func TestListModels_RetriesBusyServer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(modelsResponse))
	}))
	defer srv.Close()

	models, err := NewModelLister(fastClient(), nil, nil).ListModels(context.Background(), backend.CLIClaude, "k", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, models, 5)
}

func TestListModels_DegradesToBuiltins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid x-api-key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	builtin, err := BuiltinModels(backend.CLIClaude)
	require.NoError(t, err)

	l := NewModelLister(fastClient(), func() Credentials {
		return Credentials{APIKey: "from-settings", BaseURL: srv.URL}
	}, nil)
	models, err := l.ListModels(context.Background(), backend.CLIClaude, "", "")
	require.NoError(t, err)
	assert.Equal(t, builtin, models)

	models, err = NewModelLister(fastClient(), nil, nil).ListModels(context.Background(), backend.CLIClaude, "", "")
	require.NoError(t, err)
	assert.Equal(t, builtin, models, "no key means no request")
}

func TestListModels_Codex(t *testing.T) {
	models, err := NewModelLister(fastClient(), nil, nil).ListModels(context.Background(), backend.CLICodex, "ignored", "http://127.0.0.1:1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-5.1-codex", models[0].ID)

	_, err = NewModelLister(fastClient(), nil, nil).ListModels(context.Background(), backend.CLIType("x"), "", "")
	assert.ErrorIs(t, err, ErrUnknownCLI)
}

func TestFilterAndGroupModels(t *testing.T) {
	models, _ := BuiltinModels(backend.CLIClaude)
	models = append(models, ModelInfo{ID: "custom", Group: "Other"})

	assert.Len(t, FilterModels(models, "OPUS"), 1)
	assert.Len(t, FilterModels(models, " "), len(models))

	groups, byGroup := GroupModels(append([]ModelInfo{{ID: "x", Group: "Other"}}, models...))
	assert.Equal(t, "Other", groups[len(groups)-1])
	assert.Len(t, byGroup["Other"], 2)
}

func TestRetryableClient_ResendsBody(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)
	resp, err := fastClient().Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"prompt":"hi"}`, `{"prompt":"hi"}`}, bodies)
}
