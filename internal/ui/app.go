// Package ui is the interactive chat front end. It renders controller
// snapshots and drives a session from the keyboard.
package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"sessionviewer/internal/backend"
	"sessionviewer/internal/chat"
	"sessionviewer/internal/commands"
	"sessionviewer/internal/controller"
	"sessionviewer/internal/discovery"
	"sessionviewer/internal/export"
	"sessionviewer/internal/store"
)

// Session is the part of *controller.Controller the UI drives.
type Session interface {
	Start(ctx context.Context, projectPath, prompt, model string) error
	Continue(ctx context.Context, sessionID, prompt, model string) error
	Cancel(ctx context.Context) error
	Wait(ctx context.Context) error
	Snapshot() controller.Snapshot
	Updates() <-chan uint64
	SetModel(model string)
}

// Archive persists transcripts and their metadata. *store.Store satisfies it.
type Archive interface {
	SaveTranscript(t store.Transcript) error
	LoadTranscript(sessionID string) (*store.Transcript, error)
	ListTranscripts() ([]store.TranscriptSummary, error)
	AddBookmark(b store.Bookmark) (store.Bookmark, error)
	UpdateSessionMeta(source, projectID, sessionID, alias string, tags []string) error
	SessionMeta(source, projectID, sessionID string) (store.SessionMeta, error)
}

// ModelSource lists models for a CLI. *discovery.ModelLister satisfies it.
type ModelSource interface {
	ListModels(ctx context.Context, cli backend.CLIType, apiKey, baseURL string) ([]discovery.ModelInfo, error)
}

// SessionFactory builds a session, seeded from an archived transcript when
// one is given.
type SessionFactory func(history *store.Transcript) Session

// Options configures the chat model.
type Options struct {
	CLI           backend.CLIType
	ProjectPath   string
	Model         string
	NewSession    SessionFactory
	Archive       Archive
	Models        ModelSource
	ExportDir     string
	CancelTimeout time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

type updateMsg struct {
	session Session
	rev     uint64
}

type launchResultMsg struct{ err error }

type cancelResultMsg struct{ err error }

type quitMsg struct{ err error }

type modelsMsg struct {
	filter string
	models []discovery.ModelInfo
	err    error
}

type Model struct {
	opts    Options
	logger  *zap.Logger
	session Session
	model   string

	input      textarea.Model
	transcript *TranscriptView
	spinner    spinner.Model
	history    *HistoryState

	width, height int
	ready         bool
	mode          ViewMode

	notice     string
	noticeErr  bool
	lastStatus controller.Status
	startedAt  time.Time
	quitting   bool
}

func New(opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = 5 * time.Second
	}

	ta := textarea.New()
	ta.Placeholder = "Ask " + string(opts.CLI) + "... (/help for commands)"
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Orange)

	session := opts.NewSession(nil)
	return Model{
		opts:       opts,
		logger:     opts.Logger.Named("ui"),
		session:    session,
		model:      opts.Model,
		input:      ta,
		transcript: NewTranscriptView(80, 20),
		spinner:    sp,
		history:    NewHistoryState(),
		lastStatus: session.Snapshot().Status,
	}
}

func waitForUpdate(s Session) tea.Cmd {
	return func() tea.Msg {
		rev := <-s.Updates()
		return updateMsg{session: s, rev: rev}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForUpdate(m.session))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.history.SetMaxHeight(msg.Height)
		m.layout()
		m.transcript.Refresh(m.session.Snapshot())
		return m, nil

	case updateMsg:
		if msg.session != m.session {
			return m, nil
		}
		cmd := m.observe()
		return m, tea.Batch(cmd, waitForUpdate(m.session))

	case launchResultMsg:
		if msg.err != nil {
			m.setError(msg.err)
		}
		cmd := m.observe()
		return m, cmd

	case cancelResultMsg:
		if msg.err != nil {
			m.setError(msg.err)
		}
		return m, nil

	case quitMsg:
		if msg.err != nil {
			m.logger.Warn("generation still running at exit", zap.Error(msg.err))
		}
		m.archive(m.session.Snapshot())
		return m, tea.Quit

	case modelsMsg:
		m.showModels(msg)
		return m, nil

	case spinner.TickMsg:
		if !m.lastStatus.Active() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		cmd := m.quit()
		return m, cmd
	case "f1":
		if m.mode == ViewHelp {
			m.mode = ViewNormal
		} else {
			m.mode = ViewHelp
		}
		return m, nil
	}

	switch m.mode {
	case ViewHelp:
		if msg.String() == "esc" {
			m.mode = ViewNormal
		}
		return m, nil
	case ViewHistory:
		switch msg.String() {
		case "esc":
			m.mode = ViewNormal
		case "up", "k":
			m.history.Up()
		case "down", "j":
			m.history.Down()
		case "enter":
			cmd := m.resume()
			return m, cmd
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		cmd := m.cancel()
		return m, cmd
	case "ctrl+t":
		m.transcript.renderer.ToggleThinking()
		m.transcript.Refresh(m.session.Snapshot())
		return m, nil
	case "ctrl+r":
		cmd := m.runCommand(commands.ShowHistory{})
		return m, cmd
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.transcript.Viewport, cmd = m.transcript.Viewport.Update(msg)
		return m, cmd
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		if c := commands.Parse(text); c != nil {
			cmd := m.runCommand(c)
			return m, cmd
		}
		cmd := m.send(text)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// observe refreshes the view from the session and archives the transcript
// when a generation has just ended.
func (m *Model) observe() tea.Cmd {
	snap := m.session.Snapshot()
	m.transcript.Refresh(snap)

	was := m.lastStatus
	m.lastStatus = snap.Status
	if was.Active() && !snap.Status.Active() {
		m.archive(snap)
	}
	if !was.Active() && snap.Status.Active() {
		return m.spinner.Tick
	}
	return nil
}

func (m *Model) send(prompt string) tea.Cmd {
	snap := m.session.Snapshot()
	if snap.Status.Active() {
		m.setNotice("A generation is already running. Press Esc to cancel it.")
		return nil
	}
	m.clearNotice()
	m.startedAt = m.opts.Now()

	sess, sid, project, model := m.session, snap.SessionID, m.opts.ProjectPath, m.model
	return func() tea.Msg {
		ctx := context.Background()
		if sid == "" {
			return launchResultMsg{err: sess.Start(ctx, project, prompt, model)}
		}
		return launchResultMsg{err: sess.Continue(ctx, sid, prompt, model)}
	}
}

func (m *Model) cancel() tea.Cmd {
	if !m.session.Snapshot().Status.Active() {
		return nil
	}
	sess, timeout := m.session, m.opts.CancelTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return cancelResultMsg{err: sess.Cancel(ctx)}
	}
}

// quit leaves the chat. A running generation is cancelled and drained first
// so the CLI process does not outlive the screen.
func (m *Model) quit() tea.Cmd {
	snap := m.session.Snapshot()
	if !snap.Status.Active() {
		m.archive(snap)
		return tea.Quit
	}
	if m.quitting {
		return nil
	}
	m.quitting = true
	m.setNotice("Stopping the running generation...")
	sess, timeout := m.session, m.opts.CancelTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := sess.Cancel(ctx); err != nil {
			return quitMsg{err: err}
		}
		return quitMsg{err: sess.Wait(ctx)}
	}
}

func (m *Model) runCommand(cmd commands.Command) tea.Cmd {
	snap := m.session.Snapshot()
	source := string(m.opts.CLI)

	switch c := cmd.(type) {
	case commands.Help:
		m.mode = ViewHelp

	case commands.SetModel:
		m.model = c.Model
		m.session.SetModel(c.Model)
		m.setNotice("Model set to " + c.Model + " for the next prompt.")

	case commands.ListModels:
		if m.opts.Models == nil {
			m.setError(errors.New("model listing is not available"))
			return nil
		}
		lister, cli := m.opts.Models, m.opts.CLI
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			models, err := lister.ListModels(ctx, cli, "", "")
			return modelsMsg{filter: c.Filter, models: models, err: err}
		}

	case commands.Cancel:
		return m.cancel()

	case commands.NewSession:
		if snap.Status.Active() {
			m.setNotice("Cancel the running generation before starting a new session.")
			return nil
		}
		m.archive(snap)
		return m.switchSession(nil, "New session. The next prompt starts it.")

	case commands.Export:
		dir := c.Dir
		if dir == "" {
			dir = m.opts.ExportDir
		}
		if strings.HasPrefix(dir, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				dir = filepath.Join(home, dir[2:])
			}
		}
		t := &export.Transcript{
			SessionID:   snap.SessionID,
			Source:      source,
			Alias:       m.meta(snap).Alias,
			ProjectPath: snap.ProjectPath,
			Model:       snap.Model,
			CreatedAt:   m.startedAt,
			Messages:    snap.Messages,
		}
		path, err := export.WriteMarkdown(t, dir, m.opts.Now())
		if err != nil {
			m.setError(err)
			return nil
		}
		m.setNotice("Exported to " + path)

	case commands.Bookmark:
		if !m.needArchive(snap) {
			return nil
		}
		b := store.Bookmark{
			Source:       source,
			ProjectID:    snap.ProjectPath,
			SessionID:    snap.SessionID,
			SessionTitle: m.sessionTitle(snap),
			ProjectName:  filepath.Base(snap.ProjectPath),
		}
		if msg, ok := lastAssistant(snap.Messages); ok {
			b.MessageID = msg.ID
			b.Preview = truncate(oneLine(msg.Text()), 120)
		}
		if c.Note != "" {
			b.Preview = c.Note
		}
		if _, err := m.opts.Archive.AddBookmark(b); err != nil {
			m.setError(err)
			return nil
		}
		m.setNotice("Bookmarked.")

	case commands.SetTags:
		if !m.needArchive(snap) {
			return nil
		}
		meta := m.meta(snap)
		if err := m.opts.Archive.UpdateSessionMeta(source, snap.ProjectPath, snap.SessionID, meta.Alias, c.Tags); err != nil {
			m.setError(err)
			return nil
		}
		if len(c.Tags) == 0 {
			m.setNotice("Tags cleared.")
		} else {
			m.setNotice("Tags: " + strings.Join(c.Tags, ", "))
		}

	case commands.SetAlias:
		if !m.needArchive(snap) {
			return nil
		}
		meta := m.meta(snap)
		if err := m.opts.Archive.UpdateSessionMeta(source, snap.ProjectPath, snap.SessionID, c.Alias, meta.Tags); err != nil {
			m.setError(err)
			return nil
		}
		if c.Alias == "" {
			m.setNotice("Alias cleared.")
		} else {
			m.setNotice("Session named " + c.Alias)
		}

	case commands.ShowUsage:
		m.setNotice(UsageReport(snap))

	case commands.ShowHistory:
		if err := m.history.Load(m.opts.Archive, source); err != nil {
			m.setError(err)
			return nil
		}
		m.mode = ViewHistory

	case commands.Quit:
		return m.quit()

	case commands.ParseError:
		m.setError(errors.New(c.Message))
	}
	return nil
}

func (m *Model) resume() tea.Cmd {
	sel := m.history.Selected()
	if sel == nil {
		return nil
	}
	m.mode = ViewNormal
	snap := m.session.Snapshot()
	if snap.Status.Active() {
		m.setNotice("Cancel the running generation before resuming another session.")
		return nil
	}
	t, err := m.opts.Archive.LoadTranscript(sel.SessionID)
	if err != nil {
		m.setError(err)
		return nil
	}
	m.archive(snap)
	if t.Model != "" {
		m.model = t.Model
	}
	return m.switchSession(t, "Resumed session "+t.SessionID)
}

func (m *Model) switchSession(t *store.Transcript, notice string) tea.Cmd {
	m.session = m.opts.NewSession(t)
	m.startedAt = time.Time{}
	if t != nil {
		m.startedAt = t.CreatedAt
	}
	snap := m.session.Snapshot()
	m.lastStatus = snap.Status
	m.transcript.autoScroll = true
	m.transcript.Refresh(snap)
	m.setNotice(notice)
	return waitForUpdate(m.session)
}

func (m *Model) showModels(msg modelsMsg) {
	if msg.err != nil {
		m.setError(msg.err)
		return
	}
	models := discovery.FilterModels(msg.models, msg.filter)
	if len(models) == 0 {
		m.setNotice("No models match " + msg.filter)
		return
	}
	groups, byGroup := discovery.GroupModels(models)
	var sb strings.Builder
	for i, g := range groups {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(g + ":")
		for _, mi := range byGroup[g] {
			marker := " "
			if mi.ID == m.model {
				marker = "*"
			}
			fmt.Fprintf(&sb, "\n %s %-28s %s", marker, mi.ID, mi.Name)
		}
	}
	m.setNotice(sb.String())
}

// archive saves the transcript of snap when it has a session to file under.
func (m *Model) archive(snap controller.Snapshot) {
	if m.opts.Archive == nil || snap.SessionID == "" || len(snap.Messages) == 0 {
		return
	}
	err := m.opts.Archive.SaveTranscript(store.Transcript{
		SessionID:   snap.SessionID,
		Source:      string(m.opts.CLI),
		ProjectPath: snap.ProjectPath,
		Model:       snap.Model,
		Status:      string(snap.Status),
		Err:         snap.Err,
		Messages:    snap.Messages,
	})
	if err != nil {
		m.logger.Error("archive transcript", zap.String("session_id", snap.SessionID), zap.Error(err))
		m.setError(fmt.Errorf("archive transcript: %w", err))
	}
}

func (m *Model) needArchive(snap controller.Snapshot) bool {
	if m.opts.Archive == nil {
		m.setError(errors.New("archive not available"))
		return false
	}
	if snap.SessionID == "" {
		m.setNotice("No session yet. Send a prompt first.")
		return false
	}
	return true
}

func (m *Model) meta(snap controller.Snapshot) store.SessionMeta {
	if m.opts.Archive == nil || snap.SessionID == "" {
		return store.SessionMeta{}
	}
	meta, err := m.opts.Archive.SessionMeta(string(m.opts.CLI), snap.ProjectPath, snap.SessionID)
	if err != nil {
		m.logger.Warn("read session meta", zap.Error(err))
	}
	return meta
}

func (m *Model) sessionTitle(snap controller.Snapshot) string {
	if alias := m.meta(snap).Alias; alias != "" {
		return alias
	}
	for _, msg := range snap.Messages {
		if msg.Role == chat.RoleUser {
			if t := strings.TrimSpace(msg.Text()); t != "" {
				return truncate(oneLine(t), 80)
			}
		}
	}
	return snap.SessionID
}

func lastAssistant(msgs []chat.ChatMessage) (chat.ChatMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant && strings.TrimSpace(msgs[i].Text()) != "" {
			return msgs[i], true
		}
	}
	return chat.ChatMessage{}, false
}

func (m *Model) setNotice(s string) {
	m.notice, m.noticeErr = s, false
	m.layout()
}

func (m *Model) setError(err error) {
	m.notice, m.noticeErr = err.Error(), true
	m.layout()
}

func (m *Model) clearNotice() {
	m.notice, m.noticeErr = "", false
	m.layout()
}

func (m *Model) noticeView() string {
	if m.notice == "" {
		return ""
	}
	if m.noticeErr {
		return ErrorStyle.Render(m.notice)
	}
	return DimStyle.Render(m.notice)
}

// layout sizes the transcript to whatever the input, notice and status bar
// leave free.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	m.input.SetWidth(max(m.width-4, 10))
	used := m.input.Height() + 2 + 1
	if n := m.noticeView(); n != "" {
		used += lipgloss.Height(n)
	}
	m.transcript.Resize(m.width, max(m.height-used, 3))
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	switch m.mode {
	case ViewHelp:
		return HelpContent(m.width, m.height)
	case ViewHistory:
		return m.history.Render(m.width, m.height)
	}

	snap := m.session.Snapshot()
	var elapsed time.Duration
	if snap.Status.Active() && !m.startedAt.IsZero() {
		elapsed = m.opts.Now().Sub(m.startedAt)
	}
	status := StatusLine(snap, string(m.opts.CLI), elapsed, m.width)
	if snap.Status.Active() {
		status = m.spinner.View() + status
	}

	parts := []string{m.transcript.Viewport.View()}
	if n := m.noticeView(); n != "" {
		parts = append(parts, n)
	}
	parts = append(parts, status, InputBox.Width(max(m.width-2, 10)).Render(m.input.View()))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
