// internal/backend/api.go
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sessionviewer/internal/chat"
)

// DefaultAPIBaseURL is the Anthropic API root used when nothing overrides it.
const DefaultAPIBaseURL = "https://api.anthropic.com"

const (
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 16384
)

// ErrNoAPIKey is returned when no Anthropic API key could be resolved.
var ErrNoAPIKey = errors.New("no API key found for Claude: configure the claude CLI or set ANTHROPIC_API_KEY")

// Doer sends an HTTP request. *discovery.RetryableClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// APITransport streams replies from the Anthropic Messages API instead of a
// CLI. The API keeps no session state: Start mints a session id and Continue
// resends the earlier conversation from Request.History.
type APITransport struct {
	client       Doer
	credentials  func() (apiKey, baseURL string)
	defaultModel string
	maxTokens    int
	eventBuffer  int
	newID        func() string
	logger       *zap.Logger
}

type APIOption func(*APITransport)

func WithAPILogger(l *zap.Logger) APIOption {
	return func(t *APITransport) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithAPIEventBuffer(n int) APIOption {
	return func(t *APITransport) {
		if n > 0 {
			t.eventBuffer = n
		}
	}
}

func WithMaxTokens(n int) APIOption {
	return func(t *APITransport) {
		if n > 0 {
			t.maxTokens = n
		}
	}
}

func WithSessionIDGenerator(newID func() string) APIOption {
	return func(t *APITransport) { t.newID = newID }
}

// NewAPITransport returns a transport posting to /v1/messages. credentials
// is consulted on every launch so key changes apply to the next prompt.
func NewAPITransport(client Doer, credentials func() (apiKey, baseURL string), defaultModel string, opts ...APIOption) *APITransport {
	t := &APITransport{
		client:       client,
		credentials:  credentials,
		defaultModel: defaultModel,
		maxTokens:    defaultMaxTokens,
		eventBuffer:  256,
		newID:        uuid.NewString,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("backend").With(zap.String("cli", "api"))
	return t
}

func (t *APITransport) DefaultModel() string { return t.defaultModel }

func (t *APITransport) Start(ctx context.Context, req Request) (Stream, error) {
	return t.launch(ctx, req, t.newID(), nil)
}

func (t *APITransport) Continue(ctx context.Context, req Request) (Stream, error) {
	if req.SessionID == "" {
		return nil, errors.New("continue api: missing session id")
	}
	return t.launch(ctx, req, req.SessionID, req.History)
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
	Messages  []messageTurn `json:"messages"`
}

type messageTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (t *APITransport) launch(ctx context.Context, req Request, sessionID string, history []chat.ChatMessage) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	apiKey, baseURL := t.credentials()
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	model := req.Model
	if model == "" {
		model = t.defaultModel
	}

	body, err := json.Marshal(messagesRequest{
		Model:     model,
		MaxTokens: t.maxTokens,
		Stream:    true,
		Messages:  apiMessages(history, req.Prompt),
	})
	if err != nil {
		return nil, err
	}

	// The reply outlives ctx, which only bounds the launch.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("accept", "text/event-stream")

	t.logger.Debug("api request", zap.String("model", model), zap.String("base_url", baseURL),
		zap.Int("history", len(history)))
	resp, err := t.client.Do(streamCtx, httpReq)
	launchCancelled := !stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	if launchCancelled {
		resp.Body.Close()
		cancel()
		return nil, ctx.Err()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("API error: %s %s", resp.Status, strings.TrimSpace(string(data)))
	}

	s := &stream{events: make(chan chat.Event, t.eventBuffer), cancel: cancel}
	go t.pump(streamCtx, resp.Body, sessionID, s)
	return s, nil
}

// pump turns the server-sent events of one reply into chat events.
func (t *APITransport) pump(ctx context.Context, body io.ReadCloser, sessionID string, s *stream) {
	defer close(s.events)
	defer s.cancel()
	defer body.Close()

	s.events <- chat.SessionStarted(sessionID)

	dec := newClaudeDecoder()
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	stopped := false
	for scanner.Scan() {
		data, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.logger.Debug("skipping undecodable event", zap.Error(err))
			continue
		}
		if ev.Type == "error" {
			msg := "anthropic stream error"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			s.events <- chat.Failure(msg)
			return
		}
		for _, e := range dec.stream(ev) {
			s.events <- e
		}
		if ev.Type == "message_stop" {
			stopped = true
			break
		}
	}

	switch {
	case ctx.Err() != nil:
		t.logger.Info("api reply cancelled", zap.String("session_id", sessionID))
	case scanner.Err() != nil:
		t.logger.Error("api stream failed", zap.Error(scanner.Err()))
		s.events <- chat.Failure("anthropic stream: " + scanner.Err().Error())
	case !stopped:
		s.events <- chat.Failure("anthropic stream ended before message_stop")
	default:
		s.events <- chat.Done()
	}
}

// apiMessages flattens history into alternating user and assistant text
// turns ending with prompt. Thinking and tool traffic have no text form and
// are left out.
func apiMessages(history []chat.ChatMessage, prompt string) []messageTurn {
	var out []messageTurn
	add := func(role, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + text
			return
		}
		out = append(out, messageTurn{Role: role, Content: text})
	}
	for _, m := range history {
		switch m.Role {
		case chat.RoleUser:
			add("user", m.Text())
		case chat.RoleAssistant:
			add("assistant", m.Text())
		}
	}
	add("user", prompt)

	// the first turn must come from the user
	for len(out) > 0 && out[0].Role != "user" {
		out = out[1:]
	}
	return out
}
