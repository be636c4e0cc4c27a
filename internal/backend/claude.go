// internal/backend/claude.go
package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/config"
)

// NewClaude returns a transport running `claude -p` with stream-json output.
func NewClaude(cfg config.BackendConfig, opts ...Option) *CLITransport {
	t := newCLITransport(CLIClaude, cfg, opts)
	t.args = func(req Request, model string, resume bool) []string {
		args := []string{
			"-p", req.Prompt,
			"--output-format", "stream-json",
			"--verbose",
			"--include-partial-messages",
		}
		if model != "" {
			args = append(args, "--model", model)
		}
		if resume {
			args = append(args, "--resume", req.SessionID)
		}
		return append(args, t.extraArgs...)
	}
	t.newDecoder = func(string) decoder { return newClaudeDecoder() }
	return t
}

// claudeLine is one line of `--output-format stream-json`.
type claudeLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Event     json.RawMessage `json:"event"`
	Message   json.RawMessage `json:"message"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Error     json.RawMessage `json:"error"`
}

type apiUsage struct {
	InputTokens              *int64 `json:"input_tokens"`
	OutputTokens             *int64 `json:"output_tokens"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens"`
}

func (u *apiUsage) delta() chat.UsageDelta {
	return chat.UsageDelta{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
}

type apiBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type apiMessage struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *apiUsage       `json:"usage"`
}

// sseEvent is an Anthropic streaming event as wrapped by `stream_event`.
type sseEvent struct {
	Type         string      `json:"type"`
	Message      *apiMessage `json:"message"`
	ContentBlock *apiBlock   `json:"content_block"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Usage *apiUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// claudeDecoder prefers partial stream events. Full assistant messages are
// only turned into events when their id was never streamed.
type claudeDecoder struct {
	streamed map[string]bool

	// an assistant message synthesized from full messages, kept open so
	// that consecutive messages with the same id merge
	fullOpen  bool
	fullID    string
	fullUsage *apiUsage
}

func newClaudeDecoder() *claudeDecoder {
	return &claudeDecoder{streamed: make(map[string]bool)}
}

func (d *claudeDecoder) Decode(line []byte) ([]chat.Event, error) {
	var l claudeLine
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, fmt.Errorf("decode claude line: %w", err)
	}

	switch l.Type {
	case "system":
		if l.Subtype == "init" && l.SessionID != "" {
			return []chat.Event{chat.SessionStarted(l.SessionID)}, nil
		}
		return nil, nil

	case "stream_event":
		var ev sseEvent
		if err := json.Unmarshal(l.Event, &ev); err != nil {
			return nil, fmt.Errorf("decode stream event: %w", err)
		}
		return d.stream(ev), nil

	case "assistant":
		var m apiMessage
		if err := json.Unmarshal(l.Message, &m); err != nil {
			return nil, fmt.Errorf("decode assistant message: %w", err)
		}
		return d.assistant(m), nil

	case "user":
		var m apiMessage
		if err := json.Unmarshal(l.Message, &m); err != nil {
			return nil, fmt.Errorf("decode user message: %w", err)
		}
		return d.user(m), nil

	case "result":
		evs := d.closeFull()
		if l.SessionID != "" {
			evs = append(evs, chat.SessionStarted(l.SessionID))
		}
		if l.IsError || strings.HasPrefix(l.Subtype, "error") {
			msg := l.Result
			if msg == "" {
				msg = "claude returned " + l.Subtype
			}
			return append(evs, chat.Failure(msg)), nil
		}
		return append(evs, chat.Done()), nil

	case "error":
		return append(d.closeFull(), chat.Failure(errorMessage(l))), nil
	}
	return nil, nil
}

func (d *claudeDecoder) Flush() []chat.Event {
	return d.closeFull()
}

func (d *claudeDecoder) stream(ev sseEvent) []chat.Event {
	switch ev.Type {
	case "message_start":
		evs := d.closeFull()
		var model string
		if ev.Message != nil {
			d.streamed[ev.Message.ID] = true
			model = ev.Message.Model
		}
		evs = append(evs, chat.MessageStart(chat.RoleAssistant, model))
		if ev.Message != nil && ev.Message.Usage != nil {
			evs = append(evs, chat.MessageDelta(ev.Message.Usage.delta()))
		}
		return evs

	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil
		}
		b := ev.ContentBlock
		switch b.Type {
		case "text":
			return withText(chat.BlockStart(chat.BlockText), b.Text)
		case "thinking":
			return withText(chat.BlockStart(chat.BlockThinking), b.Thinking)
		case "tool_use", "server_tool_use":
			// The input arrives through input_json_delta; the start event
			// only carries an empty object.
			input := strings.TrimSpace(string(b.Input))
			if input == "{}" || input == "null" {
				input = ""
			}
			return []chat.Event{chat.ToolUseStart(b.ID, b.Name, input)}
		default:
			return []chat.Event{chat.BlockStart(chat.BlockKind(b.Type))}
		}

	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []chat.Event{chat.Delta(ev.Delta.Text)}
		case "thinking_delta":
			return []chat.Event{chat.Delta(ev.Delta.Thinking)}
		case "input_json_delta":
			return []chat.Event{chat.InputDelta(ev.Delta.PartialJSON)}
		}
		return nil

	case "content_block_stop":
		return []chat.Event{chat.BlockStop()}

	case "message_delta":
		if ev.Usage == nil {
			return nil
		}
		return []chat.Event{chat.MessageDelta(ev.Usage.delta())}

	case "message_stop":
		return []chat.Event{chat.MessageStop()}
	}
	return nil
}

func (d *claudeDecoder) assistant(m apiMessage) []chat.Event {
	if m.ID != "" && d.streamed[m.ID] {
		return nil
	}

	var evs []chat.Event
	if !d.fullOpen || m.ID == "" || m.ID != d.fullID {
		evs = append(evs, d.closeFull()...)
		evs = append(evs, chat.MessageStart(chat.RoleAssistant, m.Model))
		d.fullOpen, d.fullID = true, m.ID
	}
	if m.Usage != nil {
		d.fullUsage = m.Usage
	}

	var blocks []apiBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		// A bare string is plain text.
		var text string
		if json.Unmarshal(m.Content, &text) == nil && text != "" {
			evs = append(evs, withText(chat.BlockStart(chat.BlockText), text)...)
			evs = append(evs, chat.BlockStop())
		}
		return evs
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			evs = append(evs, withText(chat.BlockStart(chat.BlockText), b.Text)...)
		case "thinking":
			evs = append(evs, withText(chat.BlockStart(chat.BlockThinking), b.Thinking)...)
		case "tool_use", "server_tool_use":
			evs = append(evs, chat.ToolUseStart(b.ID, b.Name, string(b.Input)))
		default:
			evs = append(evs, chat.BlockStart(chat.BlockKind(b.Type)))
		}
		evs = append(evs, chat.BlockStop())
	}
	return evs
}

// user forwards tool results. Plain user text is the CLI echoing a prompt
// the controller already recorded, so it is dropped.
func (d *claudeDecoder) user(m apiMessage) []chat.Event {
	var blocks []apiBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil
	}
	var results []chat.Event
	for _, b := range blocks {
		if b.Type == "tool_result" {
			results = append(results, chat.ToolResult(b.ToolUseID, resultText(b.Content), b.IsError))
		}
	}
	if len(results) == 0 {
		return nil
	}
	evs := d.closeFull()
	evs = append(evs, chat.MessageStart(chat.RoleUser, ""))
	evs = append(evs, results...)
	return append(evs, chat.MessageStop())
}

func (d *claudeDecoder) closeFull() []chat.Event {
	if !d.fullOpen {
		return nil
	}
	var evs []chat.Event
	if d.fullUsage != nil {
		evs = append(evs, chat.MessageDelta(d.fullUsage.delta()))
	}
	evs = append(evs, chat.MessageStop())
	d.fullOpen, d.fullID, d.fullUsage = false, "", nil
	return evs
}

func withText(start chat.Event, text string) []chat.Event {
	if text == "" {
		return []chat.Event{start}
	}
	return []chat.Event{start, chat.Delta(text)}
}

// resultText flattens tool result content, which is either a string or a
// list of content blocks.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []apiBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			switch b.Type {
			case "text":
				parts = append(parts, b.Text)
			default:
				parts = append(parts, "["+b.Type+"]")
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func errorMessage(l claudeLine) string {
	var obj map[string]any
	if err := json.Unmarshal(l.Error, &obj); err == nil {
		if msg, ok := obj["message"].(string); ok && msg != "" {
			return msg
		}
	}
	var s string
	if err := json.Unmarshal(l.Error, &s); err == nil && s != "" {
		return s
	}
	if l.Result != "" {
		return l.Result
	}
	return "unknown error"
}
