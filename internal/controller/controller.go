// internal/controller/controller.go
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sessionviewer/internal/backend"
	"sessionviewer/internal/chat"
)

var (
	// ErrGenerationInFlight rejects Start or Continue while a generation is
	// starting or streaming.
	ErrGenerationInFlight = errors.New("generation already in flight")
	// ErrNoSession rejects Continue without a session id.
	ErrNoSession = errors.New("no session to continue")
)

// Status is the controller's position in the generation lifecycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Active reports whether a generation is in flight.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusStreaming
}

// maxBatch bounds how many queued events are applied under one lock.
const maxBatch = 64

// Controller owns one chat session: its message log and the state machine
// of the generation streaming into it. Only the controller mutates the log;
// everything else reads Snapshots.
type Controller struct {
	transport backend.Transport
	logger    *zap.Logger

	mu          sync.Mutex
	log         *chat.Log
	asm         *chat.Assembler
	sessionID   string
	projectPath string
	model       string
	status      Status
	errMsg      string
	gen         *generation
	views       *views

	updates chan uint64
}

type generation struct {
	id              uint64
	stream          backend.Stream
	cancelRequested bool
	cancelDelivered bool
	terminal        bool
	done            chan struct{}
}

// views caches the derived views of one log revision.
type views struct {
	revision uint64
	messages []chat.ChatMessage
	turns    []chat.Turn
	links    chat.ToolLinks
	usage    chat.UsageSummary
}

type options struct {
	now            func() time.Time
	newID          func() string
	logger         *zap.Logger
	toolResultRole chat.Role
	history        []chat.ChatMessage
	sessionID      string
	projectPath    string
	model          string
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithToolResultRole sets the role used when a tool result arrives with no
// open message.
func WithToolResultRole(r chat.Role) Option {
	return func(o *options) { o.toolResultRole = r }
}

// WithHistory seeds the controller with an archived transcript so the
// session can be continued.
func WithHistory(sessionID, projectPath, model string, msgs []chat.ChatMessage) Option {
	return func(o *options) {
		o.sessionID = sessionID
		o.projectPath = projectPath
		o.model = model
		o.history = msgs
	}
}

// New returns an idle controller driving transport.
func New(transport backend.Transport, opts ...Option) *Controller {
	o := options{
		now:            time.Now,
		newID:          uuid.NewString,
		logger:         zap.NewNop(),
		toolResultRole: chat.RoleUser,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.Named("controller")
	log := chat.NewLog()
	if len(o.history) > 0 {
		log = chat.NewLogFrom(o.history)
	}
	return &Controller{
		transport: transport,
		logger:    logger,
		log:       log,
		asm: chat.NewAssembler(log,
			chat.WithClock(o.now),
			chat.WithIDGenerator(o.newID),
			chat.WithLogger(logger),
			chat.WithToolResultRole(o.toolResultRole),
		),
		sessionID:   o.sessionID,
		projectPath: o.projectPath,
		model:       o.model,
		status:      StatusIdle,
		updates:     make(chan uint64, 1),
	}
}

// Start begins a new conversation in projectPath. The log is kept; the
// prompt opens the next turn.
func (c *Controller) Start(ctx context.Context, projectPath, prompt, model string) error {
	return c.launch(ctx, launchRequest{projectPath: projectPath, prompt: prompt, model: model})
}

// Continue resumes sessionID with a new prompt appended after the existing
// log.
func (c *Controller) Continue(ctx context.Context, sessionID, prompt, model string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	return c.launch(ctx, launchRequest{sessionID: sessionID, prompt: prompt, model: model, resume: true})
}

type launchRequest struct {
	projectPath string
	sessionID   string
	prompt      string
	model       string
	resume      bool
}

func (c *Controller) launch(ctx context.Context, lr launchRequest) error {
	c.mu.Lock()
	if c.status.Active() {
		c.mu.Unlock()
		return ErrGenerationInFlight
	}

	if lr.resume {
		c.sessionID = lr.sessionID
	} else {
		c.sessionID = ""
		c.projectPath = lr.projectPath
	}
	if lr.model != "" {
		c.model = lr.model
	}
	c.status = StatusStarting
	c.errMsg = ""

	var genID uint64
	if c.gen != nil {
		genID = c.gen.id + 1
	}
	gen := &generation{id: genID, done: make(chan struct{})}
	c.gen = gen
	var history []chat.ChatMessage
	if lr.resume {
		history = c.log.Messages()
	}
	c.asm.Prompt(lr.prompt)

	req := backend.Request{
		ProjectPath: c.projectPath,
		Prompt:      lr.prompt,
		Model:       c.model,
		SessionID:   c.sessionID,
		History:     history,
	}
	rev := c.log.Revision()
	c.mu.Unlock()
	c.notify(rev)

	logger := c.logger.With(zap.Uint64("generation", gen.id))
	logger.Debug("generation starting", zap.Bool("resume", lr.resume), zap.String("model", req.Model))

	var stream backend.Stream
	var err error
	if lr.resume {
		stream, err = c.transport.Continue(ctx, req)
	} else {
		stream, err = c.transport.Start(ctx, req)
	}

	c.mu.Lock()
	if err != nil {
		cancelled := gen.cancelRequested
		if cancelled {
			c.finishLocked(gen, StatusCancelled, "")
		} else {
			c.finishLocked(gen, StatusError, err.Error())
		}
		close(gen.done)
		c.mu.Unlock()
		c.notify(c.Revision())
		logger.Error("generation failed to launch", zap.Error(err))
		if cancelled {
			return nil
		}
		return fmt.Errorf("launch generation: %w", err)
	}
	gen.stream = stream
	cancelNow := gen.cancelRequested
	c.mu.Unlock()

	if cancelNow {
		err := stream.Cancel(ctx)
		c.cancelDone(gen, err)
		if err != nil {
			logger.Warn("cancel after launch failed", zap.Error(err))
		}
	}
	go c.consume(gen, stream, logger)
	return nil
}

// consume is the single writer for one generation. It applies whatever is
// queued on the channel as one batch so readers never see half an event.
func (c *Controller) consume(gen *generation, stream backend.Stream, logger *zap.Logger) {
	defer close(gen.done)

	events := stream.Events()
	batch := make([]chat.Event, 0, maxBatch)
	for {
		ev, ok := <-events
		if !ok {
			break
		}
		batch = append(batch[:0], ev)
		closed := false
	fill:
		for len(batch) < maxBatch {
			select {
			case next, more := <-events:
				if !more {
					closed = true
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}

		c.mu.Lock()
		for _, ev := range batch {
			c.applyLocked(gen, ev, logger)
		}
		rev := c.log.Revision()
		c.mu.Unlock()
		c.notify(rev)

		if closed {
			break
		}
	}

	c.mu.Lock()
	if !gen.terminal {
		if gen.cancelRequested {
			c.finishLocked(gen, StatusCancelled, "")
		} else {
			c.finishLocked(gen, StatusError, "stream closed before completion")
		}
	}
	status := c.status
	c.mu.Unlock()
	c.notify(c.Revision())
	logger.Info("generation finished", zap.String("status", string(status)))
}

func (c *Controller) applyLocked(gen *generation, ev chat.Event, logger *zap.Logger) {
	if gen.terminal {
		logger.Debug("dropping event after terminal", zap.String("event", string(ev.Type)))
		return
	}
	if c.status == StatusStarting {
		c.status = StatusStreaming
	}

	out := c.asm.Apply(ev)
	switch out.Effect {
	case chat.EffectSessionStarted:
		if c.sessionID == "" && out.SessionID != "" {
			c.sessionID = out.SessionID
			logger.Info("session started", zap.String("session_id", out.SessionID))
		}
	case chat.EffectFailed:
		logger.Error("backend reported error", zap.String("message", out.Message))
		if gen.cancelRequested {
			c.finishLocked(gen, StatusCancelled, "")
		} else {
			c.finishLocked(gen, StatusError, out.Message)
		}
	case chat.EffectDone:
		if gen.cancelRequested {
			c.finishLocked(gen, StatusCancelled, "")
		} else {
			c.finishLocked(gen, StatusIdle, "")
		}
	}
}

// finishLocked freezes the log and records the terminal status of gen.
func (c *Controller) finishLocked(gen *generation, status Status, msg string) {
	gen.terminal = true
	c.log.Seal()
	if c.gen != gen {
		return
	}
	c.status = status
	c.errMsg = msg
}

// Cancel asks the running generation to stop. Events already queued are
// still applied; the status becomes cancelled once the stream ends. It is a
// no-op when nothing is in flight and safe to call repeatedly. A cancel that
// could not be delivered is forgotten, so a later call tries again.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	if gen == nil || gen.terminal || gen.cancelDelivered || !c.status.Active() {
		c.mu.Unlock()
		return nil
	}
	gen.cancelRequested = true
	stream := gen.stream
	c.mu.Unlock()

	c.logger.Info("cancel requested", zap.Uint64("generation", gen.id))
	if stream == nil {
		// launch cancels the stream once the transport returns it
		return nil
	}
	err := stream.Cancel(ctx)
	c.cancelDone(gen, err)
	if err != nil {
		return fmt.Errorf("cancel generation: %w", err)
	}
	return nil
}

// cancelDone records the outcome of delivering a cancel to gen's stream.
func (c *Controller) cancelDone(gen *generation, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		gen.cancelDelivered = true
		return
	}
	if !gen.cancelDelivered && !gen.terminal {
		gen.cancelRequested = false
	}
}

// Wait blocks until the current generation's stream is drained.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	if gen == nil {
		return nil
	}
	select {
	case <-gen.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Updates delivers the latest log revision after each change. Intermediate
// revisions are coalesced.
func (c *Controller) Updates() <-chan uint64 {
	return c.updates
}

func (c *Controller) notify(rev uint64) {
	for {
		select {
		case c.updates <- rev:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

func (c *Controller) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Revision()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetModel changes the model used by the next generation.
func (c *Controller) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// Snapshot is a consistent read-only view of the session. Its slices and
// maps are shared between snapshots of the same revision and must not be
// modified.
type Snapshot struct {
	Revision    uint64
	SessionID   string
	ProjectPath string
	Model       string
	Status      Status
	Err         string
	Messages    []chat.ChatMessage
	Turns       []chat.Turn
	Links       chat.ToolLinks
	Usage       chat.UsageSummary
}

// Snapshot returns the current state. Derived views are recomputed only
// when the log revision changed.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	rev := c.log.Revision()
	if c.views == nil || c.views.revision != rev {
		msgs := c.log.Messages()
		c.views = &views{
			revision: rev,
			messages: msgs,
			turns:    chat.SegmentTurns(msgs),
			links:    chat.ResolveToolLinks(msgs),
			usage:    chat.AccumulateUsage(msgs),
		}
	}
	return Snapshot{
		Revision:    rev,
		SessionID:   c.sessionID,
		ProjectPath: c.projectPath,
		Model:       c.model,
		Status:      c.status,
		Err:         c.errMsg,
		Messages:    c.views.messages,
		Turns:       c.views.turns,
		Links:       c.views.links,
		Usage:       c.views.usage,
	}
}
