// internal/chat/block.go
// Package chat holds the live chat data model and the pure functions that
// assemble and derive views over it: content blocks, messages, the wire
// event format, the owned message log, the assembler, tool links, turns and
// usage.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// BlockKind discriminates the variants of ContentBlock.
type BlockKind string

const (
	BlockText        BlockKind = "text"
	BlockThinking    BlockKind = "thinking"
	BlockToolUse     BlockKind = "tool_use"
	BlockToolResult  BlockKind = "tool_result"
	BlockUnsupported BlockKind = "unsupported"
)

// ParseBlockKind maps a wire discriminant to a BlockKind. Backends disagree on
// spelling, so snake, kebab and camel forms are accepted.
func ParseBlockKind(s string) (BlockKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return BlockText, true
	case "thinking", "reasoning":
		return BlockThinking, true
	case "tool_use", "tool-use", "tooluse":
		return BlockToolUse, true
	case "tool_result", "tool-result", "toolresult":
		return BlockToolResult, true
	}
	return BlockUnsupported, false
}

// ContentBlock is one fragment of a message. Only the fields belonging to
// Kind are meaningful.
type ContentBlock struct {
	Kind BlockKind

	// Text and Thinking
	Text string

	// ToolUse carries its own id in ToolUseID; ToolResult references one.
	ToolUseID string
	ToolName  string
	InputJSON string
	// RawInput marks a ToolUse whose input did not parse as JSON when the
	// block closed. InputJSON then holds the opaque text.
	RawInput bool

	// ToolResult
	Content string
	IsError bool

	// Unsupported keeps the discriminant it was decoded from.
	RawType string
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

func ThinkingBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockThinking, Text: text}
}

func ToolUseBlock(id, name, inputJSON string) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUseID: id, ToolName: name, InputJSON: inputJSON}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// UnsupportedBlock is the placeholder for a discriminant this package does
// not understand.
func UnsupportedBlock(rawType string) ContentBlock {
	return ContentBlock{Kind: BlockUnsupported, RawType: rawType}
}

// TextBearing reports whether content deltas may be appended to the block.
func (b ContentBlock) TextBearing() bool {
	return b.Kind == BlockText || b.Kind == BlockThinking
}

// DisplayInput returns the tool input indented when it is JSON, verbatim
// otherwise.
func (b ContentBlock) DisplayInput() string {
	if b.InputJSON == "" {
		return ""
	}
	if b.RawInput || !json.Valid([]byte(b.InputJSON)) {
		return b.InputJSON
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(b.InputJSON), "", "  "); err != nil {
		return b.InputJSON
	}
	return out.String()
}

// Summary is a single line description used by list views and bookmarks.
func (b ContentBlock) Summary() string {
	switch b.Kind {
	case BlockText, BlockThinking:
		return firstLine(b.Text)
	case BlockToolUse:
		return b.ToolName
	case BlockToolResult:
		return firstLine(b.Content)
	}
	return fmt.Sprintf("[unsupported: %s]", b.RawType)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// blockJSON is the persisted shape of a block, shared with the store and the
// replay files.
type blockJSON struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	RawInput  string          `json:"rawInput,omitempty"`
	ToolUseID string          `json:"toolUseId,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
}

// MarshalJSON encodes the block with its kind as the "type" discriminant.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	out := blockJSON{Type: string(b.Kind)}
	switch b.Kind {
	case BlockText, BlockThinking:
		out.Text = b.Text
	case BlockToolUse:
		out.ID = b.ToolUseID
		out.Name = b.ToolName
		if !b.RawInput && json.Valid([]byte(b.InputJSON)) {
			out.Input = json.RawMessage(b.InputJSON)
		} else {
			out.RawInput = b.InputJSON
		}
	case BlockToolResult:
		out.ToolUseID = b.ToolUseID
		out.Content = b.Content
		out.IsError = b.IsError
	case BlockUnsupported:
		out.Type = string(BlockUnsupported)
		out.Name = b.RawType
	}
	return json.Marshal(out)
}

// UnmarshalJSON never fails on an unknown discriminant; the block becomes an
// Unsupported placeholder instead.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var in blockJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode content block: %w", err)
	}
	if in.Type == string(BlockUnsupported) {
		*b = UnsupportedBlock(in.Name)
		return nil
	}
	kind, ok := ParseBlockKind(in.Type)
	if !ok {
		*b = UnsupportedBlock(in.Type)
		return nil
	}
	switch kind {
	case BlockText:
		*b = TextBlock(in.Text)
	case BlockThinking:
		*b = ThinkingBlock(in.Text)
	case BlockToolUse:
		*b = ToolUseBlock(in.ID, in.Name, "")
		if len(in.Input) > 0 {
			b.InputJSON = string(in.Input)
		} else if in.RawInput != "" {
			b.InputJSON = in.RawInput
			b.RawInput = true
		}
	case BlockToolResult:
		*b = ToolResultBlock(in.ToolUseID, in.Content, in.IsError)
	}
	return nil
}

// DecodeBlocks decodes a JSON array of blocks. A malformed element becomes
// an Unsupported placeholder and the rest of the array is still decoded.
func DecodeBlocks(data []byte) ([]ContentBlock, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode content blocks: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(raw))
	for _, r := range raw {
		var b ContentBlock
		if err := json.Unmarshal(r, &b); err != nil {
			b = UnsupportedBlock("malformed")
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
