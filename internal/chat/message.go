// internal/chat/message.go
package chat

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ParseRole accepts a wire role, case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	case RoleSystem:
		return RoleSystem, true
	case RoleTool:
		return RoleTool, true
	}
	return "", false
}

// Usage holds token counts for one generation step.
type Usage struct {
	InputTokens              int64 `json:"inputTokens"`
	OutputTokens             int64 `json:"outputTokens"`
	CacheCreationInputTokens int64 `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int64 `json:"cacheReadInputTokens"`
}

// Total is the input plus output token count used for turn totals.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add sums every field of o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationInputTokens += o.CacheCreationInputTokens
	u.CacheReadInputTokens += o.CacheReadInputTokens
}

// ChatMessage is one role-turn in the log. Content is in render order.
type ChatMessage struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Model     string         `json:"model,omitempty"`
	Usage     *Usage         `json:"usage,omitempty"`
}

// HasText reports whether the message contains at least one Text block.
func (m ChatMessage) HasText() bool {
	for _, b := range m.Content {
		if b.Kind == BlockText {
			return true
		}
	}
	return false
}

// Text joins the message's Text blocks.
func (m ChatMessage) Text() string {
	var parts []string
	for _, b := range m.Content {
		if b.Kind == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Clone returns a deep copy that shares no memory with m.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if m.Content != nil {
		out.Content = make([]ContentBlock, len(m.Content))
		copy(out.Content, m.Content)
	}
	if m.Usage != nil {
		u := *m.Usage
		out.Usage = &u
	}
	return out
}

// CloneMessages deep copies a slice of messages.
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
