// internal/chat/event.go
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEvent is returned by DecodeEvent for a type it does not
// recognize. Callers skip the event and keep reading.
var ErrUnknownEvent = errors.New("unknown event type")

// EventType is the kebab-case discriminant of a backend event.
type EventType string

const (
	EventSessionStarted    EventType = "session-started"
	EventMessageStart      EventType = "message-start"
	EventContentBlockStart EventType = "content-block-start"
	EventContentDelta      EventType = "content-delta"
	EventInputDelta        EventType = "input-delta"
	EventContentBlockStop  EventType = "content-block-stop"
	EventMessageDelta      EventType = "message-delta"
	EventMessageStop       EventType = "message-stop"
	EventToolResult        EventType = "tool-result"
	EventError             EventType = "error"
	EventDone              EventType = "done"
)

func (t EventType) known() bool {
	switch t {
	case EventSessionStarted, EventMessageStart, EventContentBlockStart,
		EventContentDelta, EventInputDelta, EventContentBlockStop,
		EventMessageDelta, EventMessageStop, EventToolResult, EventError, EventDone:
		return true
	}
	return false
}

// Terminal reports whether the event ends a generation.
func (t EventType) Terminal() bool {
	return t == EventError || t == EventDone
}

// UsageDelta is a partial usage record. Nil fields were not reported.
type UsageDelta struct {
	InputTokens              *int64 `json:"inputTokens,omitempty"`
	OutputTokens             *int64 `json:"outputTokens,omitempty"`
	CacheCreationInputTokens *int64 `json:"cacheCreationInputTokens,omitempty"`
	CacheReadInputTokens     *int64 `json:"cacheReadInputTokens,omitempty"`
}

// Tokens returns a pointer to n for building a UsageDelta.
func Tokens(n int64) *int64 { return &n }

// Empty reports whether no field is present.
func (d UsageDelta) Empty() bool {
	return d.InputTokens == nil && d.OutputTokens == nil &&
		d.CacheCreationInputTokens == nil && d.CacheReadInputTokens == nil
}

// Event is one discrete backend emission.
type Event struct {
	Type EventType `json:"type"`

	SessionID string `json:"sessionId,omitempty"`

	Role  Role   `json:"role,omitempty"`
	Model string `json:"model,omitempty"`

	BlockType string `json:"blockType,omitempty"`
	ToolUseID string `json:"toolUseId,omitempty"`
	ToolName  string `json:"toolName,omitempty"`
	// Input is the initial tool input text carried by content-block-start.
	Input string `json:"-"`

	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partialJson,omitempty"`

	Usage *UsageDelta `json:"usage,omitempty"`

	Content string `json:"content,omitempty"`
	IsError bool   `json:"isError,omitempty"`

	Message string `json:"message,omitempty"`
}

func SessionStarted(id string) Event {
	return Event{Type: EventSessionStarted, SessionID: id}
}

func MessageStart(role Role, model string) Event {
	return Event{Type: EventMessageStart, Role: role, Model: model}
}

func BlockStart(kind BlockKind) Event {
	return Event{Type: EventContentBlockStart, BlockType: string(kind)}
}

func ToolUseStart(id, name, input string) Event {
	return Event{Type: EventContentBlockStart, BlockType: string(BlockToolUse), ToolUseID: id, ToolName: name, Input: input}
}

func Delta(text string) Event {
	return Event{Type: EventContentDelta, Text: text}
}

func InputDelta(partial string) Event {
	return Event{Type: EventInputDelta, PartialJSON: partial}
}

func BlockStop() Event {
	return Event{Type: EventContentBlockStop}
}

func MessageDelta(u UsageDelta) Event {
	return Event{Type: EventMessageDelta, Usage: &u}
}

func MessageStop() Event {
	return Event{Type: EventMessageStop}
}

func ToolResult(toolUseID, content string, isError bool) Event {
	return Event{Type: EventToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

func Failure(message string) Event {
	return Event{Type: EventError, Message: message}
}

func Done() Event {
	return Event{Type: EventDone}
}

type eventAlias Event

type eventWire struct {
	eventAlias
	Input json.RawMessage `json:"input,omitempty"`
}

// MarshalJSON embeds Input as raw JSON when it is a JSON object or array and
// as a string otherwise, so a string comes back unchanged.
func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{eventAlias: eventAlias(e)}
	if e.Input != "" {
		if isCompositeJSON(e.Input) {
			w.Input = json.RawMessage(e.Input)
		} else {
			quoted, err := json.Marshal(e.Input)
			if err != nil {
				return nil, err
			}
			w.Input = quoted
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts input either as a JSON value or as a string holding
// the input text. Non-string values are kept verbatim.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event(w.eventAlias)
	if len(w.Input) > 0 && string(w.Input) != "null" {
		var s string
		if err := json.Unmarshal(w.Input, &s); err == nil {
			e.Input = s
		} else {
			e.Input = string(w.Input)
		}
	}
	return nil
}

func isCompositeJSON(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return false
	}
	return json.Valid([]byte(t))
}

// DecodeEvent parses one wire event. Unknown types yield ErrUnknownEvent.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !ev.Type.known() {
		return ev, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return ev, nil
}
