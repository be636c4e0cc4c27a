// internal/ui/styles.go
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/controller"
)

var (
	// Colors
	Cyan     = lipgloss.Color("#00FFFF")
	Green    = lipgloss.Color("#00FF00")
	Yellow   = lipgloss.Color("#FFD700")
	Orange   = lipgloss.Color("#FFA500")
	Red      = lipgloss.Color("#FF6B6B")
	Magenta  = lipgloss.Color("#FF00FF")
	SkyBlue  = lipgloss.Color("#87CEEB")
	Dim      = lipgloss.Color("#555555")
	White    = lipgloss.Color("#FFFFFF")
	DarkGray = lipgloss.Color("#333333")

	// Role colors
	UserColor      = SkyBlue
	AssistantColor = Cyan
	ToolColor      = Magenta
	SystemColor    = Yellow

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Cyan)

	TurnStyle = lipgloss.NewStyle().
			Foreground(Dim).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(Dim)

	ThinkingStyle = lipgloss.NewStyle().
			Foreground(Dim).
			Italic(true)

	ToolStyle = lipgloss.NewStyle().
			Foreground(ToolColor).
			Bold(true)

	ResultBox = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(Dim).
			PaddingLeft(1)

	ErrorResultBox = ResultBox.
			BorderForeground(Red)

	InputBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Cyan)

	StatusBar = lipgloss.NewStyle().
			Foreground(White).
			Background(DarkGray).
			Padding(0, 1)

	// Status indicators
	StatusOK   = lipgloss.NewStyle().Foreground(Green).Bold(true)
	StatusWarn = lipgloss.NewStyle().Foreground(Orange).Bold(true)
	StatusCrit = lipgloss.NewStyle().Foreground(Red).Bold(true)
)

// RoleStyle returns the header style for a message role
func RoleStyle(role chat.Role) lipgloss.Style {
	switch role {
	case chat.RoleUser:
		return lipgloss.NewStyle().Foreground(UserColor).Bold(true)
	case chat.RoleAssistant:
		return lipgloss.NewStyle().Foreground(AssistantColor).Bold(true)
	case chat.RoleTool:
		return lipgloss.NewStyle().Foreground(ToolColor).Bold(true)
	case chat.RoleSystem:
		return lipgloss.NewStyle().Foreground(SystemColor)
	default:
		return lipgloss.NewStyle().Foreground(White)
	}
}

func statusIndicator(status controller.Status) string {
	switch status {
	case controller.StatusStarting, controller.StatusStreaming:
		return StatusWarn.Render("●")
	case controller.StatusError:
		return StatusCrit.Render("✗")
	case controller.StatusCancelled:
		return DimStyle.Render("◌")
	default:
		return StatusOK.Render("●")
	}
}
