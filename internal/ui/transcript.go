// internal/ui/transcript.go
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/controller"
	"sessionviewer/internal/export"
)

// maxResultLines bounds how much of a tool result is shown inline.
const maxResultLines = 12

// Renderer turns controller snapshots into terminal text. It keeps the last
// render so an unchanged revision is not rendered twice.
type Renderer struct {
	width        int
	md           *glamour.TermRenderer
	showThinking bool

	lastRevision uint64
	lastWidth    int
	lastThinking bool
	last         string
}

func NewRenderer(width int) *Renderer {
	r := &Renderer{}
	r.SetWidth(width)
	return r
}

// SetWidth rebuilds the markdown renderer for a new terminal width.
func (r *Renderer) SetWidth(width int) {
	if width == r.width && r.md != nil {
		return
	}
	r.width = width
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width-4, 40)),
	)
	if err == nil {
		r.md = md
	}
}

// ToggleThinking expands or collapses thinking blocks.
func (r *Renderer) ToggleThinking() bool {
	r.showThinking = !r.showThinking
	return r.showThinking
}

func (r *Renderer) markdown(s string) string {
	if r.md == nil {
		return s
	}
	out, err := r.md.Render(s)
	if err != nil {
		return s
	}
	return strings.Trim(out, "\n")
}

// Render draws every turn of snap.
func (r *Renderer) Render(snap controller.Snapshot) string {
	if snap.Revision == r.lastRevision && r.width == r.lastWidth && r.showThinking == r.lastThinking && r.last != "" {
		return r.last
	}

	var sb strings.Builder
	seen := make(map[string]bool)
	for _, turn := range snap.Turns {
		header := fmt.Sprintf("── Turn %d ", turn.Index+1)
		if turn.Tokens > 0 {
			header += fmt.Sprintf("· %d tokens ", turn.Tokens)
		}
		sb.WriteString(TurnStyle.Render(header + strings.Repeat("─", max(r.width-lipgloss.Width(header)-2, 0))))
		sb.WriteString("\n\n")
		for _, m := range turn.Messages {
			r.renderMessage(&sb, m, snap.Links, seen)
		}
	}

	if snap.Status == controller.StatusError && snap.Err != "" {
		sb.WriteString(ErrorStyle.Render("Error: " + snap.Err))
		sb.WriteString("\n")
	}
	if snap.Status == controller.StatusCancelled {
		sb.WriteString(DimStyle.Render("Generation cancelled."))
		sb.WriteString("\n")
	}

	r.lastRevision, r.lastWidth, r.lastThinking = snap.Revision, r.width, r.showThinking
	r.last = sb.String()
	return r.last
}

func (r *Renderer) renderMessage(sb *strings.Builder, m chat.ChatMessage, links chat.ToolLinks, seen map[string]bool) {
	var body strings.Builder
	for _, b := range m.Content {
		switch b.Kind {
		case chat.BlockText:
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			if m.Role == chat.RoleAssistant {
				body.WriteString(r.markdown(b.Text))
			} else {
				body.WriteString(indent(b.Text))
			}
			body.WriteString("\n\n")

		case chat.BlockThinking:
			if r.showThinking {
				body.WriteString(ThinkingStyle.Render(indent(strings.TrimSpace(b.Text))))
			} else {
				lines := strings.Count(strings.TrimSpace(b.Text), "\n") + 1
				body.WriteString(ThinkingStyle.Render(fmt.Sprintf("  ▸ thinking (%d lines, ctrl+t to expand)", lines)))
			}
			body.WriteString("\n\n")

		case chat.BlockToolUse:
			if b.ToolUseID != "" {
				seen[b.ToolUseID] = true
			}
			body.WriteString("  " + ToolStyle.Render("⚙ "+b.ToolName) + " " + DimStyle.Render(truncate(oneLine(b.DisplayInput()), r.width-len(b.ToolName)-8)))
			body.WriteString("\n")
			if res, ok := links.Result(b.ToolUseID); ok {
				body.WriteString(renderResult(res.Content, res.IsError))
			} else {
				body.WriteString(DimStyle.Render("    … pending"))
				body.WriteString("\n")
			}
			body.WriteString("\n")

		case chat.BlockToolResult:
			if seen[b.ToolUseID] {
				continue
			}
			body.WriteString(DimStyle.Render(fmt.Sprintf("  result for %s", b.ToolUseID)))
			body.WriteString("\n")
			body.WriteString(renderResult(b.Content, b.IsError))
			body.WriteString("\n")

		case chat.BlockUnsupported:
			body.WriteString(DimStyle.Render(fmt.Sprintf("  [unsupported block: %s]", b.RawType)))
			body.WriteString("\n\n")
		}
	}
	if body.Len() == 0 {
		return
	}

	header := roleLabel(m.Role)
	if m.Model != "" {
		header += " · " + m.Model
	}
	if !m.Timestamp.IsZero() {
		header = fmt.Sprintf("[%s] %s", m.Timestamp.Format("15:04"), header)
	}
	sb.WriteString(RoleStyle(m.Role).Render(header))
	sb.WriteString("\n")
	sb.WriteString(body.String())
}

func renderResult(content string, isError bool) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > maxResultLines {
		more := len(lines) - maxResultLines
		lines = append(lines[:maxResultLines], fmt.Sprintf("… %d more lines", more))
	}
	box := ResultBox
	if isError {
		box = ErrorResultBox
	}
	return lipgloss.NewStyle().PaddingLeft(4).Render(box.Render(strings.Join(lines, "\n"))) + "\n"
}

func roleLabel(role chat.Role) string {
	switch role {
	case chat.RoleUser:
		return "You"
	case chat.RoleAssistant:
		return "Assistant"
	case chat.RoleTool:
		return "Tool"
	case chat.RoleSystem:
		return "System"
	}
	return string(role)
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// StatusLine summarizes the session for the bottom bar.
func StatusLine(snap controller.Snapshot, cli string, elapsed time.Duration, width int) string {
	parts := []string{
		statusIndicator(snap.Status) + " " + string(snap.Status),
		cli,
	}
	if snap.Model != "" {
		parts = append(parts, snap.Model)
	}
	if snap.SessionID != "" {
		parts = append(parts, "session "+truncate(snap.SessionID, 13))
	}
	if snap.Status.Active() && elapsed > 0 {
		parts = append(parts, formatElapsedTime(elapsed))
	}
	if snap.Usage.Messages > 0 {
		parts = append(parts, export.FormatUsage(snap.Usage.Usage))
	}
	return StatusBar.Width(width).Render(strings.Join(parts, " │ "))
}

func formatElapsedTime(elapsed time.Duration) string {
	if elapsed < time.Second {
		return "<1s"
	}
	if elapsed < time.Minute {
		return fmt.Sprintf("%ds", int(elapsed.Seconds()))
	}
	return fmt.Sprintf("%dm%ds", int(elapsed.Minutes()), int(elapsed.Seconds())%60)
}

// UsageReport lists tokens per turn.
func UsageReport(snap controller.Snapshot) string {
	var sb strings.Builder
	for _, t := range snap.Turns {
		u := chat.AccumulateUsage(t.Messages)
		fmt.Fprintf(&sb, "Turn %d: %s\n", t.Index+1, export.FormatUsage(u.Usage))
	}
	fmt.Fprintf(&sb, "Total: %s over %d messages", export.FormatUsage(snap.Usage.Usage), snap.Usage.Messages)
	return sb.String()
}

// TranscriptView wraps the rendered transcript in a scrolling viewport.
type TranscriptView struct {
	Viewport   viewport.Model
	renderer   *Renderer
	autoScroll bool
}

func NewTranscriptView(width, height int) *TranscriptView {
	vp := viewport.New(width, height)
	vp.Style = lipgloss.NewStyle()
	vp.MouseWheelEnabled = true
	return &TranscriptView{Viewport: vp, renderer: NewRenderer(width), autoScroll: true}
}

func (v *TranscriptView) Resize(width, height int) {
	v.Viewport.Width = width
	v.Viewport.Height = height
	v.renderer.SetWidth(width)
}

// Refresh re-renders snap, following the bottom unless the user scrolled up.
func (v *TranscriptView) Refresh(snap controller.Snapshot) {
	follow := v.autoScroll || v.Viewport.AtBottom()
	v.Viewport.SetContent(v.renderer.Render(snap))
	if follow {
		v.Viewport.GotoBottom()
	}
}
