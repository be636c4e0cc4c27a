// internal/chat/assembler.go
package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Effect is what an applied event means to the owner of the log beyond the
// log mutation itself.
type Effect int

const (
	EffectNone Effect = iota
	EffectSessionStarted
	EffectFailed
	EffectDone
)

// Outcome describes the result of applying one event.
type Outcome struct {
	Effect    Effect
	SessionID string
	Message   string
	// Violation is set when the event did not fit the cursor and was
	// coerced or dropped.
	Violation string
}

// Assembler folds backend events into a Log. It owns no state besides the
// log cursor, so one Assembler serves every generation of a session.
type Assembler struct {
	log            *Log
	toolResultRole Role
	now            func() time.Time
	newID          func() string
	logger         *zap.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithToolResultRole sets the role of messages opened implicitly for a
// tool-result that arrives with no open message.
func WithToolResultRole(r Role) AssemblerOption {
	return func(a *Assembler) { a.toolResultRole = r }
}

func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

func WithIDGenerator(newID func() string) AssemblerOption {
	return func(a *Assembler) { a.newID = newID }
}

func WithLogger(logger *zap.Logger) AssemblerOption {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler returns an assembler writing into log.
func NewAssembler(log *Log, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		log:            log,
		toolResultRole: RoleUser,
		now:            time.Now,
		newID:          uuid.NewString,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Prompt appends a sealed user message holding text.
func (a *Assembler) Prompt(text string) {
	a.log.Begin(a.message(RoleUser, ""))
	a.log.AppendBlock(TextBlock(text), false)
	a.log.Seal()
}

// Apply mutates the log for one event in arrival order. Protocol violations
// are coerced and reported in the Outcome, never returned as errors.
func (a *Assembler) Apply(ev Event) Outcome {
	switch ev.Type {
	case EventSessionStarted:
		return Outcome{Effect: EffectSessionStarted, SessionID: ev.SessionID}

	case EventMessageStart:
		role, ok := ParseRole(string(ev.Role))
		if !ok {
			role = RoleAssistant
		}
		a.log.Begin(a.message(role, ev.Model))
		return Outcome{}

	case EventContentBlockStart:
		var out Outcome
		if !a.log.MessageOpen() {
			a.implicitMessage(RoleAssistant)
			out = a.violation(ev, "content-block-start with no open message")
		}
		kind, ok := ParseBlockKind(ev.BlockType)
		var b ContentBlock
		switch {
		case !ok:
			b = UnsupportedBlock(ev.BlockType)
		case kind == BlockToolUse:
			b = ToolUseBlock(ev.ToolUseID, ev.ToolName, ev.Input)
		case kind == BlockToolResult:
			b = ToolResultBlock(ev.ToolUseID, "", false)
		default:
			b = ContentBlock{Kind: kind}
		}
		a.log.AppendBlock(b, true)
		return out

	case EventContentDelta:
		if a.log.AppendText(ev.Text) {
			return Outcome{}
		}
		out := a.violation(ev, "content-delta with no open text block")
		if !a.log.MessageOpen() {
			a.implicitMessage(RoleAssistant)
		}
		a.log.AppendBlock(TextBlock(ev.Text), true)
		return out

	case EventInputDelta:
		if a.log.AppendInput(ev.PartialJSON) {
			return Outcome{}
		}
		return a.violation(ev, "input-delta with no open tool use block")

	case EventContentBlockStop:
		if _, ok := a.log.CloseBlock(); !ok {
			return a.violation(ev, "content-block-stop with no open block")
		}
		return Outcome{}

	case EventMessageDelta:
		if ev.Usage == nil || ev.Usage.Empty() {
			return Outcome{}
		}
		if !a.log.MessageOpen() {
			return a.violation(ev, "message-delta with no open message")
		}
		u, _ := a.log.Usage()
		a.log.SetUsage(mergeUsage(u, *ev.Usage))
		return Outcome{}

	case EventMessageStop:
		if !a.log.Seal() {
			return a.violation(ev, "message-stop with no open message")
		}
		return Outcome{}

	case EventToolResult:
		if !a.log.MessageOpen() {
			a.implicitMessage(a.toolResultRole)
		}
		a.log.AppendBlock(ToolResultBlock(ev.ToolUseID, ev.Content, ev.IsError), false)
		return Outcome{}

	case EventError:
		a.log.Seal()
		return Outcome{Effect: EffectFailed, Message: ev.Message}

	case EventDone:
		a.log.Seal()
		return Outcome{Effect: EffectDone}
	}
	return a.violation(ev, "unknown event type")
}

func (a *Assembler) message(role Role, model string) ChatMessage {
	return ChatMessage{ID: a.newID(), Role: role, Timestamp: a.now(), Model: model}
}

func (a *Assembler) implicitMessage(role Role) {
	a.log.Begin(a.message(role, ""))
}

func (a *Assembler) violation(ev Event, reason string) Outcome {
	a.logger.Warn("protocol violation",
		zap.String("event", string(ev.Type)),
		zap.String("reason", reason),
		zap.Int("messages", a.log.Len()),
		zap.Bool("message_open", a.log.MessageOpen()),
		zap.Bool("block_open", a.log.BlockOpen()),
	)
	return Outcome{Violation: reason}
}

// mergeUsage takes the latest reported snapshot for each present field.
// Counts never decrease.
func mergeUsage(u Usage, d UsageDelta) Usage {
	take := func(cur int64, v *int64) int64 {
		if v == nil || *v < cur {
			return cur
		}
		return *v
	}
	u.InputTokens = take(u.InputTokens, d.InputTokens)
	u.OutputTokens = take(u.OutputTokens, d.OutputTokens)
	u.CacheCreationInputTokens = take(u.CacheCreationInputTokens, d.CacheCreationInputTokens)
	u.CacheReadInputTokens = take(u.CacheReadInputTokens, d.CacheReadInputTokens)
	return u
}

func jsonValid(s string) bool {
	return json.Valid([]byte(s))
}
