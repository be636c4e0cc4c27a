// internal/backend/codex.go
package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/config"
)

// NewCodex returns a transport running `codex exec --json` with the prompt
// on stdin.
func NewCodex(cfg config.BackendConfig, opts ...Option) *CLITransport {
	t := newCLITransport(CLICodex, cfg, opts)
	t.args = func(req Request, model string, resume bool) []string {
		args := []string{"exec", "--json", "--skip-git-repo-check"}
		if model != "" {
			args = append(args, "--model", model)
		}
		args = append(args, t.extraArgs...)
		if resume {
			args = append(args, "resume", req.SessionID)
		}
		// "-" reads the prompt from stdin
		return append(args, "-")
	}
	t.stdin = func(req Request) string { return req.Prompt }
	t.newDecoder = func(model string) decoder { return newCodexDecoder(model) }
	return t
}

type codexLine struct {
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id"`
	Item     *codexItem  `json:"item"`
	Usage    *codexUsage `json:"usage"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`

	// legacy NDJSON shape
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type codexItem struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	ItemType string `json:"item_type"`
	Text     string `json:"text"`

	Command          string `json:"command"`
	AggregatedOutput string `json:"aggregated_output"`
	ExitCode         *int   `json:"exit_code"`
	Status           string `json:"status"`

	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`

	Changes []struct {
		Path string `json:"path"`
		Kind string `json:"kind"`
	} `json:"changes"`

	Query string `json:"query"`
}

func (it *codexItem) kind() string {
	if it.Type != "" {
		return it.Type
	}
	return it.ItemType
}

func (it *codexItem) isTool() bool {
	switch it.kind() {
	case "command_execution", "mcp_tool_call", "file_change", "web_search":
		return true
	}
	return false
}

type codexUsage struct {
	InputTokens       *int64 `json:"input_tokens"`
	CachedInputTokens *int64 `json:"cached_input_tokens"`
	OutputTokens      *int64 `json:"output_tokens"`
}

// codexDecoder groups the items of a turn into one assistant message. A
// completed tool item closes it, adds a tool message with the result, and
// the next item reopens an assistant message.
type codexDecoder struct {
	model    string
	open     bool
	textOpen bool
	started  map[string]bool
}

func newCodexDecoder(model string) *codexDecoder {
	return &codexDecoder{model: model, started: make(map[string]bool)}
}

func (d *codexDecoder) Decode(line []byte) ([]chat.Event, error) {
	var l codexLine
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, fmt.Errorf("decode codex line: %w", err)
	}

	switch l.Type {
	case "thread.started":
		if l.ThreadID == "" {
			return nil, nil
		}
		return []chat.Event{chat.SessionStarted(l.ThreadID)}, nil

	case "turn.started":
		return d.ensureAssistant(), nil

	case "item.started":
		if l.Item == nil || !l.Item.isTool() {
			return nil, nil
		}
		d.started[l.Item.ID] = true
		return append(d.ensureAssistant(), d.toolUse(l.Item)...), nil

	case "item.completed":
		if l.Item == nil {
			return nil, nil
		}
		return d.completed(l.Item), nil

	case "turn.completed":
		evs := d.ensureAssistant()
		if l.Usage != nil {
			evs = append(evs, chat.MessageDelta(chat.UsageDelta{
				InputTokens:          l.Usage.InputTokens,
				OutputTokens:         l.Usage.OutputTokens,
				CacheReadInputTokens: l.Usage.CachedInputTokens,
			}))
		}
		evs = append(evs, d.closeAssistant()...)
		return append(evs, chat.Done()), nil

	case "turn.failed":
		msg := "turn failed"
		if l.Error != nil && l.Error.Message != "" {
			msg = l.Error.Message
		}
		return append(d.closeAssistant(), chat.Failure(msg)), nil

	case "error":
		msg := l.Message
		if msg == "" && l.Error != nil {
			msg = l.Error.Message
		}
		if msg == "" {
			msg = "unknown error"
		}
		return append(d.closeAssistant(), chat.Failure(msg)), nil

	// legacy shape
	case "message_start":
		evs := d.closeAssistant()
		d.open = true
		return append(evs, chat.MessageStart(chat.RoleAssistant, d.model)), nil

	case "content_block_delta":
		if l.Delta == nil || l.Delta.Type != "text_delta" {
			return nil, nil
		}
		evs := d.ensureAssistant()
		if !d.textOpen {
			evs = append(evs, chat.BlockStart(chat.BlockText))
			d.textOpen = true
		}
		return append(evs, chat.Delta(l.Delta.Text)), nil

	case "message_stop":
		return d.closeAssistant(), nil
	}
	return nil, nil
}

func (d *codexDecoder) Flush() []chat.Event {
	return d.closeAssistant()
}

func (d *codexDecoder) completed(it *codexItem) []chat.Event {
	switch it.kind() {
	case "agent_message":
		evs := d.ensureAssistant()
		evs = append(evs, withText(chat.BlockStart(chat.BlockText), it.Text)...)
		return append(evs, chat.BlockStop())
	case "reasoning":
		evs := d.ensureAssistant()
		evs = append(evs, withText(chat.BlockStart(chat.BlockThinking), it.Text)...)
		return append(evs, chat.BlockStop())
	}
	if !it.isTool() {
		return nil
	}

	var evs []chat.Event
	if !d.started[it.ID] {
		evs = append(evs, d.ensureAssistant()...)
		evs = append(evs, d.toolUse(it)...)
	}
	delete(d.started, it.ID)
	content, isErr := toolOutput(it)
	evs = append(evs, d.closeAssistant()...)
	return append(evs,
		chat.MessageStart(chat.RoleTool, ""),
		chat.ToolResult(it.ID, content, isErr),
		chat.MessageStop(),
	)
}

func (d *codexDecoder) ensureAssistant() []chat.Event {
	if d.open {
		return nil
	}
	d.open = true
	return []chat.Event{chat.MessageStart(chat.RoleAssistant, d.model)}
}

func (d *codexDecoder) closeAssistant() []chat.Event {
	if !d.open {
		return nil
	}
	var evs []chat.Event
	if d.textOpen {
		evs = append(evs, chat.BlockStop())
		d.textOpen = false
	}
	d.open = false
	return append(evs, chat.MessageStop())
}

func (d *codexDecoder) toolUse(it *codexItem) []chat.Event {
	var name string
	var input any
	switch it.kind() {
	case "command_execution":
		name, input = "shell", map[string]string{"command": it.Command}
	case "mcp_tool_call":
		name = "mcp__" + it.Server + "__" + it.Tool
		if len(it.Arguments) > 0 {
			input = it.Arguments
		}
	case "file_change":
		name, input = "apply_patch", map[string]any{"changes": it.Changes}
	case "web_search":
		name, input = "web_search", map[string]string{"query": it.Query}
	}
	var inputJSON string
	if input != nil {
		if data, err := json.Marshal(input); err == nil {
			inputJSON = string(data)
		}
	}
	// the tool use closes any open text block
	d.textOpen = false
	return []chat.Event{chat.ToolUseStart(it.ID, name, inputJSON), chat.BlockStop()}
}

func toolOutput(it *codexItem) (string, bool) {
	failed := it.Status == "failed"
	switch it.kind() {
	case "command_execution":
		isErr := failed || (it.ExitCode != nil && *it.ExitCode != 0)
		return it.AggregatedOutput, isErr
	case "mcp_tool_call":
		if it.Error != nil && it.Error.Message != "" {
			return it.Error.Message, true
		}
		return mcpResultText(it.Result), failed
	case "file_change":
		var lines []string
		for _, c := range it.Changes {
			lines = append(lines, c.Kind+" "+c.Path)
		}
		return strings.Join(lines, "\n"), failed
	}
	return "", failed
}

func mcpResultText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var res struct {
		Content []apiBlock `json:"content"`
	}
	if err := json.Unmarshal(raw, &res); err == nil && len(res.Content) > 0 {
		var parts []string
		for _, b := range res.Content {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
