// internal/chat/event_test.go
package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "session started",
			line: `{"type":"session-started","sessionId":"abc"}`,
			want: SessionStarted("abc"),
		},
		{
			name: "tool use with object input",
			line: `{"type":"content-block-start","blockType":"tool_use","toolUseId":"tu-1","toolName":"Bash","input":{"command":"ls"}}`,
			want: ToolUseStart("tu-1", "Bash", `{"command":"ls"}`),
		},
		{
			name: "tool use with string input",
			line: `{"type":"content-block-start","blockType":"tool-use","toolUseId":"tu-1","toolName":"Bash","input":"{\"command\":"}`,
			want: Event{Type: EventContentBlockStart, BlockType: "tool-use", ToolUseID: "tu-1", ToolName: "Bash", Input: `{"command":`},
		},
		{
			name: "usage",
			line: `{"type":"message-delta","usage":{"inputTokens":10,"outputTokens":5}}`,
			want: MessageDelta(UsageDelta{InputTokens: Tokens(10), OutputTokens: Tokens(5)}),
		},
		{
			name: "tool result",
			line: `{"type":"tool-result","toolUseId":"tu-1","content":"denied","isError":true}`,
			want: ToolResult("tu-1", "denied", true),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEvent_Unknown(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"heartbeat"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = DecodeEvent([]byte(`not json`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownEvent))
}

func TestEvent_MarshalInput(t *testing.T) {
	data, err := json.Marshal(ToolUseStart("tu-1", "Bash", `{"command":"ls"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"content-block-start","blockType":"tool_use","toolUseId":"tu-1","toolName":"Bash","input":{"command":"ls"}}`, string(data))

	data, err = json.Marshal(ToolUseStart("tu-1", "Bash", `{"command":`))
	require.NoError(t, err)
	back, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, `{"command":`, back.Input)
}

func TestEvent_InputSurvivesEncoding(t *testing.T) {
	for _, input := range []string{
		`{"command":"ls"}`,
		`[1,2]`,
		`"abc"`,
		`42`,
		`true`,
		`{"command":`,
		`plain text`,
	} {
		t.Run(input, func(t *testing.T) {
			data, err := json.Marshal(ToolUseStart("tu-1", "Bash", input))
			require.NoError(t, err)
			back, err := DecodeEvent(data)
			require.NoError(t, err)
			assert.Equal(t, input, back.Input)
		})
	}
}

func TestDecodeBlocks_UnknownDiscriminant(t *testing.T) {
	blocks, err := DecodeBlocks([]byte(`[
		{"type":"text","text":"hi"},
		{"type":"image","source":{}},
		42,
		{"type":"tool_use","id":"tu-1","name":"Bash","input":{"command":"ls"}},
		{"type":"tool_use","id":"tu-2","name":"Bash","rawInput":"{oops"},
		{"type":"tool_result","toolUseId":"tu-1","content":"ok"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []ContentBlock{
		TextBlock("hi"),
		UnsupportedBlock("image"),
		UnsupportedBlock("malformed"),
		ToolUseBlock("tu-1", "Bash", `{"command":"ls"}`),
		{Kind: BlockToolUse, ToolUseID: "tu-2", ToolName: "Bash", InputJSON: "{oops", RawInput: true},
		ToolResultBlock("tu-1", "ok", false),
	}, blocks)
}

func TestContentBlock_JSONPreservesRawInput(t *testing.T) {
	in := ContentBlock{Kind: BlockToolUse, ToolUseID: "tu-1", ToolName: "Edit", InputJSON: `{"a":`, RawInput: true}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out ContentBlock
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
