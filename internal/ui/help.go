// internal/ui/help.go
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	helpTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Cyan).
			MarginBottom(1)

	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Yellow).
				MarginTop(1)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(Green).
			Bold(true)

	helpCmdStyle = lipgloss.NewStyle().
			Foreground(Magenta)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(White)

	helpDimStyle = lipgloss.NewStyle().
			Foreground(Dim)
)

// HelpContent returns the formatted help overlay content
func HelpContent(width, height int) string {
	var content strings.Builder

	content.WriteString(helpTitleStyle.Render("SESSIONVIEWER HELP"))
	content.WriteString("\n\n")

	content.WriteString(helpSectionStyle.Render("KEYBINDINGS"))
	content.WriteString("\n\n")

	keybindings := []struct {
		key  string
		desc string
	}{
		{"Enter", "Send the prompt"},
		{"Alt+Enter", "Insert a newline"},
		{"Esc", "Cancel the running generation / close overlay"},
		{"PgUp / PgDn", "Scroll the transcript"},
		{"Ctrl+T", "Expand or collapse thinking"},
		{"Ctrl+R", "Browse archived sessions"},
		{"F1", "Toggle this help overlay"},
		{"Ctrl+C", "Quit"},
	}

	for _, kb := range keybindings {
		key := helpKeyStyle.Width(14).Render(kb.key)
		desc := helpDescStyle.Render(kb.desc)
		content.WriteString("  " + key + "  " + desc + "\n")
	}

	content.WriteString("\n")
	content.WriteString(helpSectionStyle.Render("SLASH COMMANDS"))
	content.WriteString("\n\n")

	cmds := []struct {
		cmd  string
		desc string
	}{
		{"/model <id>", "Use another model for the next prompt"},
		{"/models [filter]", "List models for the active CLI"},
		{"/cancel", "Stop the running generation"},
		{"/new", "Start a fresh session with the next prompt"},
		{"/export [dir]", "Export the transcript as markdown"},
		{"/bookmark [note]", "Bookmark the last assistant message"},
		{"/tag <t1,t2>", "Set session tags"},
		{"/alias <name>", "Name the session"},
		{"/usage", "Token usage per turn"},
		{"/history", "Browse archived sessions"},
		{"/quit", "Leave the chat"},
	}

	for _, c := range cmds {
		cmdStr := helpCmdStyle.Width(18).Render(c.cmd)
		desc := helpDescStyle.Render(c.desc)
		content.WriteString("  " + cmdStr + "  " + desc + "\n")
	}

	content.WriteString("\n")
	content.WriteString(helpSectionStyle.Render("STATUS INDICATORS"))
	content.WriteString("\n\n")

	indicators := []struct {
		symbol string
		style  lipgloss.Style
		desc   string
	}{
		{"●", StatusOK, "Idle, ready for a prompt"},
		{"●", StatusWarn, "Starting or streaming a response"},
		{"◌", DimStyle, "Cancelled"},
		{"✗", StatusCrit, "The CLI reported an error"},
	}

	for _, ind := range indicators {
		symbol := ind.style.Width(3).Render(ind.symbol)
		desc := helpDescStyle.Render(ind.desc)
		content.WriteString("  " + symbol + "  " + desc + "\n")
	}

	content.WriteString("\n")
	footer := helpDimStyle.Render("Press F1 or Esc to close this help")
	content.WriteString(lipgloss.PlaceHorizontal(max(width-8, 0), lipgloss.Center, footer))

	overlayStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Cyan).
		Padding(1, 3).
		MaxWidth(max(width-10, 20)).
		MaxHeight(max(height-4, 10))

	return lipgloss.Place(
		width,
		height,
		lipgloss.Center,
		lipgloss.Center,
		overlayStyle.Render(content.String()),
	)
}
