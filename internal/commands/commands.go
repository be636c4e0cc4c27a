// internal/commands/commands.go
// Package commands handles slash command parsing for the chat TUI.
package commands

import (
	"strings"
)

// Command interface for all command types
type Command interface {
	Type() string
}

// Help returns help text
type Help struct{}

func (Help) Type() string { return "help" }

// SetModel switches the model for the next generation
type SetModel struct {
	Model string
}

func (SetModel) Type() string { return "model" }

// ListModels lists the models of the active CLI, optionally filtered
type ListModels struct {
	Filter string
}

func (ListModels) Type() string { return "models" }

// Cancel stops the running generation
type Cancel struct{}

func (Cancel) Type() string { return "cancel" }

// NewSession makes the next prompt start a fresh session
type NewSession struct{}

func (NewSession) Type() string { return "new" }

// Export writes the transcript as markdown
type Export struct {
	Dir string
}

func (Export) Type() string { return "export" }

// Bookmark bookmarks the session, or the last assistant message
type Bookmark struct {
	Note string
}

func (Bookmark) Type() string { return "bookmark" }

// SetTags replaces the session tags; no tags clears them
type SetTags struct {
	Tags []string
}

func (SetTags) Type() string { return "tag" }

// SetAlias names the session; an empty alias clears it
type SetAlias struct {
	Alias string
}

func (SetAlias) Type() string { return "alias" }

// ShowUsage shows token usage per turn
type ShowUsage struct{}

func (ShowUsage) Type() string { return "usage" }

// ShowHistory lists archived sessions
type ShowHistory struct{}

func (ShowHistory) Type() string { return "history" }

// Quit leaves the chat
type Quit struct{}

func (Quit) Type() string { return "quit" }

// ParseError represents a command parsing error
type ParseError struct {
	Message string
}

func (ParseError) Type() string { return "error" }

// Parse parses user input and returns the appropriate Command.
// Returns nil if the input is not a slash command.
func Parse(input string) Command {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	rest := strings.Join(args, " ")

	switch cmd {
	case "/help", "/?":
		return Help{}

	case "/model":
		if len(args) != 1 {
			return ParseError{Message: "/model requires exactly one model id"}
		}
		return SetModel{Model: args[0]}

	case "/models":
		return ListModels{Filter: rest}

	case "/cancel", "/stop":
		return Cancel{}

	case "/new":
		return NewSession{}

	case "/export":
		return Export{Dir: rest}

	case "/bookmark":
		return Bookmark{Note: rest}

	case "/tag", "/tags":
		return SetTags{Tags: splitTags(rest)}

	case "/alias":
		return SetAlias{Alias: rest}

	case "/usage":
		return ShowUsage{}

	case "/history":
		return ShowHistory{}

	case "/quit", "/exit":
		return Quit{}

	default:
		return ParseError{Message: "unknown command: " + cmd}
	}
}

// splitTags accepts comma and/or space separated tags.
func splitTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// HelpText returns the help text for all available commands.
func HelpText() string {
	return `Available commands:
  /help               - Show this help
  /model <id>         - Use another model for the next prompt
  /models [filter]    - List models for the active CLI
  /cancel             - Stop the running generation (also Esc)
  /new                - Start a fresh session with the next prompt
  /export [dir]       - Export the transcript as markdown
  /bookmark [note]    - Bookmark the last assistant message
  /tag <t1,t2>        - Set session tags (no tags clears them)
  /alias <name>       - Name the session (no name clears it)
  /usage              - Show token usage per turn
  /history            - List archived sessions
  /quit               - Leave the chat

Keys: Enter send, Alt+Enter newline, Esc cancel, PgUp/PgDn scroll, Ctrl+C quit`
}

// IsCommand returns true if the input looks like a slash command.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}
