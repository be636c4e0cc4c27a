// internal/chat/turns.go
package chat

// Turn is a contiguous run of the log that starts at a user prompt. Turns are
// recomputed from the log and carry no identity beyond their index.
type Turn struct {
	Index int
	// Start is the log index of the turn's first message.
	Start    int
	Messages []ChatMessage
	Tokens   int64
}

// SegmentTurns groups msgs into turns. A user message with a Text block opens
// a new turn, except the first message which always opens turn 0.
func SegmentTurns(msgs []ChatMessage) []Turn {
	var turns []Turn
	for i, m := range msgs {
		if i == 0 || (m.Role == RoleUser && m.HasText()) {
			turns = append(turns, Turn{Index: len(turns), Start: i})
		}
		t := &turns[len(turns)-1]
		t.Messages = append(t.Messages, m)
		if m.Usage != nil {
			t.Tokens += m.Usage.Total()
		}
	}
	return turns
}

// FlattenTurns is the inverse of SegmentTurns.
func FlattenTurns(turns []Turn) []ChatMessage {
	var msgs []ChatMessage
	for _, t := range turns {
		msgs = append(msgs, t.Messages...)
	}
	return msgs
}
