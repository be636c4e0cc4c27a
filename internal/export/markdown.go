// internal/export/markdown.go
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sessionviewer/internal/chat"
)

// Transcript is what gets exported.
type Transcript struct {
	SessionID   string
	Source      string
	Alias       string
	ProjectPath string
	Model       string
	CreatedAt   time.Time
	Messages    []chat.ChatMessage
}

func (t *Transcript) title() string {
	if t.Alias != "" {
		return t.Alias
	}
	if t.SessionID != "" {
		return "Session " + t.SessionID
	}
	return "Session"
}

// Markdown renders t grouped by turn. Tool uses are followed by their linked
// result; results without a preceding tool use are rendered on their own.
func Markdown(t *Transcript, exportedAt time.Time) string {
	var sb strings.Builder

	sb.WriteString("# ")
	sb.WriteString(t.title())
	sb.WriteString("\n\n---\n\n")

	if t.SessionID != "" {
		fmt.Fprintf(&sb, "**Session ID:** `%s`\n\n", t.SessionID)
	}
	if t.Source != "" {
		fmt.Fprintf(&sb, "**Source:** %s\n\n", t.Source)
	}
	if !t.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "**Created:** %s\n\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if t.ProjectPath != "" {
		fmt.Fprintf(&sb, "**Project:** `%s`\n\n", t.ProjectPath)
	}
	if t.Model != "" {
		fmt.Fprintf(&sb, "**Model:** %s\n\n", t.Model)
	}
	if u := chat.AccumulateUsage(t.Messages); u.Messages > 0 {
		fmt.Fprintf(&sb, "**Usage:** %s\n\n", FormatUsage(u.Usage))
	}
	sb.WriteString("---\n\n")

	links := chat.ResolveToolLinks(t.Messages)
	seen := make(map[string]bool)
	for _, turn := range chat.SegmentTurns(t.Messages) {
		fmt.Fprintf(&sb, "## Turn %d", turn.Index+1)
		if turn.Tokens > 0 {
			fmt.Fprintf(&sb, " (%d tokens)", turn.Tokens)
		}
		sb.WriteString("\n\n")
		for _, m := range turn.Messages {
			writeMessage(&sb, m, links, seen)
		}
	}

	fmt.Fprintf(&sb, "---\n\n*Exported from sessionviewer on %s*\n", exportedAt.Format("2006-01-02 15:04:05"))
	return sb.String()
}

// seen collects tool use ids already rendered; a result for one of them is
// shown under its tool use instead.
func writeMessage(sb *strings.Builder, m chat.ChatMessage, links chat.ToolLinks, seen map[string]bool) {
	var body strings.Builder
	for _, b := range m.Content {
		switch b.Kind {
		case chat.BlockText:
			if text := strings.TrimSpace(b.Text); text != "" {
				body.WriteString(text)
				body.WriteString("\n\n")
			}
		case chat.BlockThinking:
			fmt.Fprintf(&body, "<details>\n<summary>Thinking</summary>\n\n%s\n\n</details>\n\n", strings.TrimSpace(b.Text))
		case chat.BlockToolUse:
			if b.ToolUseID != "" {
				seen[b.ToolUseID] = true
			}
			fmt.Fprintf(&body, "**Tool:** `%s`\n\n", b.ToolName)
			lang := "json"
			if b.RawInput {
				lang = ""
			}
			writeFenced(&body, lang, b.DisplayInput())
			if res, ok := links.Result(b.ToolUseID); ok {
				writeResult(&body, "Result", res.Content, res.IsError)
			} else {
				body.WriteString("*Result pending*\n\n")
			}
		case chat.BlockToolResult:
			if seen[b.ToolUseID] {
				continue
			}
			writeResult(&body, fmt.Sprintf("Result for `%s`", b.ToolUseID), b.Content, b.IsError)
		case chat.BlockUnsupported:
			fmt.Fprintf(&body, "*[unsupported block: %s]*\n\n", b.RawType)
		}
	}
	if body.Len() == 0 {
		return
	}

	fmt.Fprintf(sb, "### %s", roleName(m.Role))
	if m.Model != "" {
		fmt.Fprintf(sb, " (%s)", m.Model)
	}
	if !m.Timestamp.IsZero() {
		fmt.Fprintf(sb, " [%s]", m.Timestamp.Format("15:04:05"))
	}
	sb.WriteString("\n\n")
	sb.WriteString(body.String())
}

func writeResult(sb *strings.Builder, label, content string, isError bool) {
	if isError {
		label += " (error)"
	}
	fmt.Fprintf(sb, "**%s:**\n\n", label)
	writeFenced(sb, "", content)
}

// writeFenced picks a fence longer than any backtick run in s.
func writeFenced(sb *strings.Builder, lang, s string) {
	fence := "```"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	fmt.Fprintf(sb, "%s%s\n%s\n%s\n\n", fence, lang, strings.TrimRight(s, "\n"), fence)
}

func roleName(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return "User"
	case chat.RoleAssistant:
		return "Assistant"
	case chat.RoleSystem:
		return "System"
	case chat.RoleTool:
		return "Tool"
	}
	return string(r)
}

// FormatUsage renders token counts the way the chat status line does.
func FormatUsage(u chat.Usage) string {
	s := fmt.Sprintf("%d in / %d out", u.InputTokens, u.OutputTokens)
	if u.CacheReadInputTokens > 0 || u.CacheCreationInputTokens > 0 {
		s += fmt.Sprintf(" (cache %d read, %d write)", u.CacheReadInputTokens, u.CacheCreationInputTokens)
	}
	return s
}

// WriteMarkdown writes the export to dir and returns the file path.
func WriteMarkdown(t *Transcript, dir string, exportedAt time.Time) (string, error) {
	date := t.CreatedAt
	if date.IsZero() {
		date = exportedAt
	}
	filename := fmt.Sprintf("%s-%s.md", date.Format("2006-01-02"), sanitizeFilename(t.title()))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(Markdown(t, exportedAt)), 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.ToLower(name), " ", "-")

	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		}
	}

	result := sb.String()
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	result = strings.Trim(result, "-")
	if result == "" {
		result = "session"
	}
	if len(result) > 50 {
		result = strings.TrimRight(result[:50], "-")
	}
	return result
}
