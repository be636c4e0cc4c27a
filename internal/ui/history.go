// internal/ui/history.go
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"sessionviewer/internal/store"
)

// ViewMode represents the current view state
type ViewMode int

const (
	ViewNormal ViewMode = iota
	ViewHistory
	ViewHelp
)

// HistoryState holds the state for the archived session browser
type HistoryState struct {
	sessions  []store.TranscriptSummary
	cursor    int
	scrollTop int
	maxHeight int
	now       func() time.Time
}

func NewHistoryState() *HistoryState {
	return &HistoryState{maxHeight: 20, now: time.Now}
}

// Up moves the cursor up
func (h *HistoryState) Up() {
	if h.cursor > 0 {
		h.cursor--
		if h.cursor < h.scrollTop {
			h.scrollTop = h.cursor
		}
	}
}

// Down moves the cursor down
func (h *HistoryState) Down() {
	if h.cursor < len(h.sessions)-1 {
		h.cursor++
		if h.cursor >= h.scrollTop+h.maxHeight {
			h.scrollTop = h.cursor - h.maxHeight + 1
		}
	}
}

// Selected returns the highlighted session, or nil if none
func (h *HistoryState) Selected() *store.TranscriptSummary {
	if h.cursor >= 0 && h.cursor < len(h.sessions) {
		return &h.sessions[h.cursor]
	}
	return nil
}

// Load fills the browser with the archive's sessions for one CLI.
func (h *HistoryState) Load(archive Archive, source string) error {
	if archive == nil {
		return fmt.Errorf("archive not available")
	}
	all, err := archive.ListTranscripts()
	if err != nil {
		return err
	}
	h.sessions = h.sessions[:0]
	for _, s := range all {
		if source == "" || s.Source == source {
			h.sessions = append(h.sessions, s)
		}
	}
	h.cursor = 0
	h.scrollTop = 0
	return nil
}

// SetMaxHeight updates the max visible height
func (h *HistoryState) SetMaxHeight(height int) {
	h.maxHeight = max(height-10, 5)
}

// Render renders the history browser overlay
func (h *HistoryState) Render(width, height int) string {
	var content strings.Builder

	content.WriteString(TitleStyle.Render("SESSION HISTORY"))
	content.WriteString("\n")
	content.WriteString(DimStyle.Render("Select a session to resume"))
	content.WriteString("\n\n")

	if len(h.sessions) == 0 {
		content.WriteString(DimStyle.Render("No archived sessions."))
	} else {
		visibleEnd := min(h.scrollTop+h.maxHeight, len(h.sessions))

		header := fmt.Sprintf("  %-13s  %-28s  %-9s  %-16s  %s", "Session", "Name", "Status", "Updated", "Msgs")
		content.WriteString(DimStyle.Render(header))
		content.WriteString("\n")
		content.WriteString(DimStyle.Render(strings.Repeat("-", 80)))
		content.WriteString("\n")

		for i := h.scrollTop; i < visibleEnd; i++ {
			s := h.sessions[i]

			name := s.Alias
			if name == "" {
				name = s.ProjectPath
			}
			name = truncate(name, 28)

			timeStr := s.UpdatedAt.Local().Format("2006-01-02 15:04")
			if h.now().Sub(s.UpdatedAt) < 24*time.Hour {
				timeStr = s.UpdatedAt.Local().Format("Today 15:04")
			}

			statusStyle := DimStyle
			switch s.Status {
			case "idle":
				statusStyle = StatusOK
			case "error":
				statusStyle = StatusCrit
			}

			cursor := "  "
			lineStyle := DimStyle
			if i == h.cursor {
				cursor = "> "
				lineStyle = lipgloss.NewStyle().Foreground(Cyan)
			}

			line := fmt.Sprintf("%-13s  %-28s  %s  %-16s  %d",
				truncate(s.SessionID, 13), name, statusStyle.Width(9).Render(s.Status), timeStr, s.Messages)
			content.WriteString(cursor)
			content.WriteString(lineStyle.Render(line))
			content.WriteString("\n")
		}

		if len(h.sessions) > h.maxHeight {
			content.WriteString("\n")
			content.WriteString(DimStyle.Render(fmt.Sprintf("Showing %d-%d of %d", h.scrollTop+1, visibleEnd, len(h.sessions))))
		}
	}

	content.WriteString("\n\n")
	content.WriteString(DimStyle.Render("Up/Down: Navigate | Enter: Resume | Esc: Cancel"))

	overlayStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Cyan).
		Padding(1, 2).
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
