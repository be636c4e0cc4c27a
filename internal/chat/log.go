// internal/chat/log.go
package chat

// Log is the ordered message log with an explicit assembly cursor. It is not
// safe for concurrent use; its owner serializes access.
//
// Only the open message may change, and within it only the open block. Every
// mutation bumps Revision.
type Log struct {
	messages []ChatMessage
	cur      cursor
	revision uint64
}

type cursor struct {
	msg   int // index of the open message, -1 when sealed
	block int // index of the open block within it, -1 when none
}

var sealed = cursor{msg: -1, block: -1}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{cur: sealed}
}

// NewLogFrom returns a sealed log holding a copy of msgs.
func NewLogFrom(msgs []ChatMessage) *Log {
	return &Log{messages: CloneMessages(msgs), cur: sealed, revision: 1}
}

func (l *Log) Len() int { return len(l.messages) }

// Revision increases with every mutation.
func (l *Log) Revision() uint64 { return l.revision }

// Messages returns a deep copy of the log.
func (l *Log) Messages() []ChatMessage {
	return CloneMessages(l.messages)
}

// MessageOpen reports whether a message is accepting blocks.
func (l *Log) MessageOpen() bool { return l.cur.msg >= 0 }

// BlockOpen reports whether a block is accepting deltas.
func (l *Log) BlockOpen() bool { return l.cur.block >= 0 }

// OpenBlock returns a copy of the open block.
func (l *Log) OpenBlock() (ContentBlock, bool) {
	if l.cur.block < 0 {
		return ContentBlock{}, false
	}
	return l.messages[l.cur.msg].Content[l.cur.block], true
}

// OpenRole returns the role of the open message.
func (l *Log) OpenRole() (Role, bool) {
	if l.cur.msg < 0 {
		return "", false
	}
	return l.messages[l.cur.msg].Role, true
}

// Begin seals whatever is open and appends m as the new open message.
func (l *Log) Begin(m ChatMessage) {
	l.Seal()
	m = m.Clone()
	l.messages = append(l.messages, m)
	l.cur = cursor{msg: len(l.messages) - 1, block: -1}
	l.revision++
}

// AppendBlock closes the open block and appends b to the open message. When
// open is true, b becomes the open block. It reports false when no message
// is open.
func (l *Log) AppendBlock(b ContentBlock, open bool) bool {
	if l.cur.msg < 0 {
		return false
	}
	l.CloseBlock()
	m := &l.messages[l.cur.msg]
	m.Content = append(m.Content, b)
	if open {
		l.cur.block = len(m.Content) - 1
	}
	l.revision++
	return true
}

// AppendText extends the open block's text. It reports false unless the open
// block is text-bearing.
func (l *Log) AppendText(s string) bool {
	b := l.openBlock()
	if b == nil || !b.TextBearing() {
		return false
	}
	b.Text += s
	l.revision++
	return true
}

// AppendInput extends the open ToolUse block's input text.
func (l *Log) AppendInput(s string) bool {
	b := l.openBlock()
	if b == nil || b.Kind != BlockToolUse {
		return false
	}
	b.InputJSON += s
	l.revision++
	return true
}

// CloseBlock finalizes the open block and returns it.
func (l *Log) CloseBlock() (ContentBlock, bool) {
	b := l.openBlock()
	if b == nil {
		return ContentBlock{}, false
	}
	if b.Kind == BlockToolUse {
		finalizeInput(b)
	}
	l.cur.block = -1
	l.revision++
	return *b, true
}

// SetUsage replaces the open message's usage.
func (l *Log) SetUsage(u Usage) bool {
	if l.cur.msg < 0 {
		return false
	}
	l.messages[l.cur.msg].Usage = &u
	l.revision++
	return true
}

// Usage returns the open message's usage, if any.
func (l *Log) Usage() (Usage, bool) {
	if l.cur.msg < 0 || l.messages[l.cur.msg].Usage == nil {
		return Usage{}, false
	}
	return *l.messages[l.cur.msg].Usage, true
}

// Seal closes the open block and message. Nothing sealed changes again.
func (l *Log) Seal() bool {
	if l.cur.msg < 0 {
		return false
	}
	l.CloseBlock()
	l.cur = sealed
	l.revision++
	return true
}

func (l *Log) openBlock() *ContentBlock {
	if l.cur.msg < 0 || l.cur.block < 0 {
		return nil
	}
	return &l.messages[l.cur.msg].Content[l.cur.block]
}

func finalizeInput(b *ContentBlock) {
	if b.InputJSON == "" {
		b.InputJSON = "{}"
		return
	}
	b.RawInput = !jsonValid(b.InputJSON)
}
