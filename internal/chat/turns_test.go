// internal/chat/turns_test.go
package chat

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentTurns(t *testing.T) {
	msgs := []ChatMessage{
		{ID: "0", Role: RoleSystem, Content: []ContentBlock{TextBlock("init")}},
		{ID: "1", Role: RoleUser, Content: []ContentBlock{TextBlock("first prompt")}},
		{ID: "2", Role: RoleAssistant, Usage: &Usage{InputTokens: 10, OutputTokens: 5, CacheReadInputTokens: 1000}},
		{ID: "3", Role: RoleUser, Content: []ContentBlock{ToolResultBlock("tu-1", "ok", false)}},
		{ID: "4", Role: RoleAssistant, Usage: &Usage{InputTokens: 20, OutputTokens: 2}},
		{ID: "5", Role: RoleUser, Content: []ContentBlock{TextBlock("second prompt")}},
		{ID: "6", Role: RoleAssistant},
	}

	turns := SegmentTurns(msgs)
	require.Len(t, turns, 3)

	assert.Equal(t, 0, turns[0].Index)
	assert.Equal(t, []string{"0"}, ids(turns[0].Messages), "first message opens turn 0 whatever its role")

	assert.Equal(t, 1, turns[1].Index)
	assert.Equal(t, 1, turns[1].Start)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(turns[1].Messages), "tool result carriers do not open turns")
	assert.Equal(t, int64(37), turns[1].Tokens)

	assert.Equal(t, 5, turns[2].Start)
	assert.Equal(t, int64(0), turns[2].Tokens)
}

func TestSegmentTurns_Empty(t *testing.T) {
	assert.Empty(t, SegmentTurns(nil))
}

func TestSegmentTurns_Idempotent(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for iter := 0; iter < 300; iter++ {
		msgs := randomLog(r)
		// Sprinkle prompts so boundaries occur.
		for i := range msgs {
			if msgs[i].Role == RoleUser && r.Intn(2) == 0 {
				msgs[i].Content = append(msgs[i].Content, TextBlock("prompt"))
			}
		}

		turns := SegmentTurns(msgs)
		again := SegmentTurns(FlattenTurns(turns))
		if diff := cmp.Diff(turns, again); diff != "" {
			t.Fatalf("iteration %d: segmentation not idempotent (-first +second):\n%s", iter, diff)
		}

		count := 0
		for _, turn := range turns {
			count += len(turn.Messages)
		}
		assert.Equal(t, len(msgs), count, "iteration %d: every message in exactly one turn", iter)
		if diff := cmp.Diff(msgs, FlattenTurns(turns)); len(msgs) > 0 && diff != "" {
			t.Fatalf("iteration %d: flatten changed the log:\n%s", iter, diff)
		}
	}
}

func TestAccumulateUsage(t *testing.T) {
	msgs := []ChatMessage{
		{Role: RoleUser},
		{Role: RoleAssistant, Usage: &Usage{InputTokens: 10, OutputTokens: 5, CacheCreationInputTokens: 3}},
		{Role: RoleAssistant, Usage: &Usage{}},
		{Role: RoleAssistant, Usage: &Usage{InputTokens: 1, OutputTokens: 2, CacheReadInputTokens: 40}},
	}
	got := AccumulateUsage(msgs)
	assert.Equal(t, UsageSummary{
		Usage:    Usage{InputTokens: 11, OutputTokens: 7, CacheCreationInputTokens: 3, CacheReadInputTokens: 40},
		Messages: 3,
	}, got)
	assert.Equal(t, int64(18), got.Total())

	assert.Equal(t, UsageSummary{}, AccumulateUsage(nil))
}

func ids(msgs []ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
