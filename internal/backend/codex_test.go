// internal/backend/codex_test.go
package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/config"
)

const codexFixture = `
{"type":"thread.started","thread_id":"0199a213-81c0-7800-8aa1-bbab2a035a53"}
{"type":"turn.started"}
{"type":"item.completed","item":{"id":"item_0","type":"reasoning","text":"**Listing the repo**"}}
{"type":"item.started","item":{"id":"item_1","type":"command_execution","command":"bash -lc ls","aggregated_output":"","exit_code":null,"status":"in_progress"}}
{"type":"item.completed","item":{"id":"item_1","type":"command_execution","command":"bash -lc ls","aggregated_output":"go.mod\nmain.go\n","exit_code":0,"status":"completed"}}
{"type":"item.completed","item":{"id":"item_2","type":"command_execution","command":"bash -lc 'cat nope'","aggregated_output":"cat: nope: No such file","exit_code":1,"status":"failed"}}
{"type":"item.completed","item":{"id":"item_3","type":"agent_message","text":"The repo has two files."}}
{"type":"turn.completed","usage":{"input_tokens":24763,"cached_input_tokens":24448,"output_tokens":122}}
`

func TestCodexDecoder_Turn(t *testing.T) {
	msgs, events := assemble(t, newCodexDecoder("gpt-5.1-codex"), codexFixture)

	assert.Equal(t, chat.SessionStarted("0199a213-81c0-7800-8aa1-bbab2a035a53"), events[0])
	assert.Equal(t, chat.Done(), events[len(events)-1])

	require.Len(t, msgs, 5)

	assert.Equal(t, chat.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "gpt-5.1-codex", msgs[0].Model)
	assert.Equal(t, []chat.ContentBlock{
		chat.ThinkingBlock("**Listing the repo**"),
		chat.ToolUseBlock("item_1", "shell", `{"command":"bash -lc ls"}`),
	}, msgs[0].Content)

	assert.Equal(t, chat.RoleTool, msgs[1].Role)
	assert.Equal(t, []chat.ContentBlock{chat.ToolResultBlock("item_1", "go.mod\nmain.go\n", false)}, msgs[1].Content)

	// item_2 completed without a started event
	assert.Equal(t, []chat.ContentBlock{chat.ToolUseBlock("item_2", "shell", `{"command":"bash -lc 'cat nope'"}`)}, msgs[2].Content)
	assert.Equal(t, []chat.ContentBlock{chat.ToolResultBlock("item_2", "cat: nope: No such file", true)}, msgs[3].Content)

	assert.Equal(t, "The repo has two files.", msgs[4].Text())
	require.NotNil(t, msgs[4].Usage)
	assert.Equal(t, chat.Usage{InputTokens: 24763, OutputTokens: 122, CacheReadInputTokens: 24448}, *msgs[4].Usage)

	links := chat.ResolveToolLinks(msgs)
	assert.Len(t, links.Results, 2)
	assert.Empty(t, links.Pending(msgs))
}

func TestCodexDecoder_ToolKinds(t *testing.T) {
	msgs, _ := assemble(t, newCodexDecoder(""), `
{"type":"item.completed","item":{"id":"i1","type":"mcp_tool_call","server":"docs","tool":"search","arguments":{"q":"zap"},"result":{"content":[{"type":"text","text":"found 3"}]},"status":"completed"}}
{"type":"item.completed","item":{"id":"i2","type":"file_change","changes":[{"path":"main.go","kind":"update"},{"path":"x.go","kind":"add"}],"status":"completed"}}
{"type":"item.completed","item":{"id":"i3","type":"mcp_tool_call","server":"docs","tool":"search","arguments":{},"error":{"message":"server offline"},"status":"failed"}}
`)

	require.Len(t, msgs, 6)
	assert.Equal(t, chat.ToolUseBlock("i1", "mcp__docs__search", `{"q":"zap"}`), msgs[0].Content[0])
	assert.Equal(t, chat.ToolResultBlock("i1", "found 3", false), msgs[1].Content[0])
	assert.Equal(t, "apply_patch", msgs[2].Content[0].ToolName)
	assert.Equal(t, chat.ToolResultBlock("i2", "update main.go\nadd x.go", false), msgs[3].Content[0])
	assert.Equal(t, chat.ToolResultBlock("i3", "server offline", true), msgs[5].Content[0])
}

func TestCodexDecoder_Failures(t *testing.T) {
	d := newCodexDecoder("")
	evs, err := d.Decode([]byte(`{"type":"turn.started"}`))
	require.NoError(t, err)
	require.Len(t, evs, 1)

	evs, err = d.Decode([]byte(`{"type":"turn.failed","error":{"message":"stream disconnected"}}`))
	require.NoError(t, err)
	assert.Equal(t, []chat.Event{chat.MessageStop(), chat.Failure("stream disconnected")}, evs)

	evs, err = d.Decode([]byte(`{"type":"error","message":"Reconnecting... 1/5"}`))
	require.NoError(t, err)
	assert.Equal(t, []chat.Event{chat.Failure("Reconnecting... 1/5")}, evs)
}

func TestCodexDecoder_Legacy(t *testing.T) {
	msgs, _ := assemble(t, newCodexDecoder("o4-mini"), `
{"type":"message_start"}
{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}
{"type":"content_block_delta","delta":{"type":"text_delta","text":" there"}}
{"type":"message_stop"}
`)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello there", msgs[0].Text())
	assert.Equal(t, "o4-mini", msgs[0].Model)
}

func TestCodexArgs(t *testing.T) {
	tr := NewCodex(config.BackendConfig{CLIPath: "codex", ExtraArgs: []string{"--full-auto"}})
	req := Request{Prompt: "hi", SessionID: "thread-1"}

	assert.Equal(t, []string{"exec", "--json", "--skip-git-repo-check", "--model", "o4-mini", "--full-auto", "resume", "thread-1", "-"},
		tr.args(req, "o4-mini", true))
	assert.Equal(t, []string{"exec", "--json", "--skip-git-repo-check", "--full-auto", "-"},
		tr.args(req, "", false))
	assert.Equal(t, "hi", tr.stdin(req))
}
